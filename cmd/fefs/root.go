package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/outofforest/fefs"
	"github.com/outofforest/fefs/dir"
	"github.com/outofforest/fefs/pkg/filedev"
)

const (
	flagConfig      = "config"
	flagImage       = "image"
	flagBlockSize   = "block-size"
	flagTableBlocks = "table-blocks"
	flagSize        = "size"
	flagForce       = "force"
	flagParents     = "parents"
	flagCacheSize   = "cache-size"
	flagVerbose     = "verbose"
)

type app struct {
	fs afero.Fs
	v  *viper.Viper
}

func newRootCommand(fs afero.Fs) *cobra.Command {
	a := &app{
		fs: fs,
		v:  viper.New(),
	}

	cmd := &cobra.Command{
		Use:           "fefs",
		Short:         "Manages fefs volumes stored in image files",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagConfig, "", "path to the configuration file")
	flags.StringP(flagImage, "i", "fefs.img", "path to the volume image")
	flags.Int64(flagBlockSize, 0, "block size, when zero the default one is used by mkfs and the stored one by others")
	flags.Int64(flagCacheSize, fefs.DefaultConfig().CacheSize, "number of bytes used to cache blocks")
	flags.BoolP(flagVerbose, "v", false, "log debug messages")
	lo.Must0(a.v.BindPFlags(flags))

	a.v.SetEnvPrefix("FEFS")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	cmd.AddCommand(
		a.mkfsCommand(),
		a.infoCommand(),
		a.lsCommand(),
		a.treeCommand(),
		a.mkdirCommand(),
		a.putCommand(),
		a.catCommand(),
		a.rmCommand(),
	)
	return cmd
}

func (a *app) loadConfig() error {
	path := a.v.GetString(flagConfig)
	if path == "" {
		return nil
	}
	a.v.SetFs(a.fs)
	a.v.SetConfigFile(path)
	return errors.Wrapf(a.v.ReadInConfig(), "reading config file %q failed", path)
}

func (a *app) logger() (*zap.Logger, error) {
	if a.v.GetBool(flagVerbose) {
		return zap.NewDevelopment()
	}
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return config.Build()
}

func (a *app) config() (fefs.Config, error) {
	log, err := a.logger()
	if err != nil {
		return fefs.Config{}, errors.WithStack(err)
	}
	return fefs.Config{
		BlockSize: a.v.GetInt64(flagBlockSize),
		CacheSize: a.v.GetInt64(flagCacheSize),
		Logger:    log,
	}, nil
}

// withVolume opens the image and runs fn holding the volume handle.
func (a *app) withVolume(fn func(v *fefs.Volume) error) (retErr error) {
	config, err := a.config()
	if err != nil {
		return err
	}
	defer func() {
		_ = config.Logger.Sync()
	}()

	dev, err := filedev.Open(a.fs, a.v.GetString(flagImage), 0)
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil && retErr == nil {
			retErr = err
		}
	}()

	fs, err := fefs.Open(dev, config)
	if err != nil {
		return err
	}

	v := fs.Lock()
	defer func() {
		if err := v.Unlock(); err != nil && retErr == nil {
			retErr = err
		}
	}()

	return fn(v)
}

// splitPath returns the segments of the path. Empty segments are dropped, so "/a//b/" becomes ["a", "b"].
func splitPath(path string) []string {
	return lo.Compact(strings.Split(path, "/"))
}

// walk returns the directory reached by following segments from the root.
func walk(v *fefs.Volume, segments []string) (*dir.Directory, error) {
	d := v.Root()
	for _, segment := range segments {
		var err error
		if d, err = d.Cd(segment); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// parent returns the directory containing the last segment of the path and the name of that segment.
func parent(v *fefs.Volume, path string) (*dir.Directory, string, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, "", errors.Wrapf(fefs.ErrInvalidName, "path %q does not name an entry", path)
	}
	d, err := walk(v, segments[:len(segments)-1])
	if err != nil {
		return nil, "", err
	}
	return d, segments[len(segments)-1], nil
}
