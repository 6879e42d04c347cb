package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/outofforest/fefs"
	"github.com/outofforest/fefs/blocks"
	"github.com/outofforest/fefs/dir"
	"github.com/outofforest/fefs/file"
	"github.com/outofforest/fefs/pkg/filedev"
)

func (a *app) mkfsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkfs",
		Short: "Creates new volume in the image file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (retErr error) {
			config, err := a.config()
			if err != nil {
				return err
			}
			defer func() {
				_ = config.Logger.Sync()
			}()

			if config.BlockSize == 0 {
				config.BlockSize = blocks.DefaultBlockSize
			}
			config.AllocBlocks = a.v.GetUint32(flagTableBlocks)
			config.Overwrite = a.v.GetBool(flagForce)

			image := a.v.GetString(flagImage)
			size := a.v.GetInt64(flagSize)
			exists, err := afero.Exists(a.fs, image)
			if err != nil {
				return errors.WithStack(err)
			}
			if exists && !cmd.Flags().Changed(flagSize) {
				// Existing image keeps its size unless requested explicitly.
				size = 0
			}

			dev, err := filedev.Open(a.fs, image, size)
			if err != nil {
				return err
			}
			defer func() {
				if err := dev.Close(); err != nil && retErr == nil {
					retErr = err
				}
			}()

			fs, err := fefs.Create(dev, config)
			if err != nil {
				return err
			}

			v := fs.Lock()
			defer func() {
				if err := v.Unlock(); err != nil && retErr == nil {
					retErr = err
				}
			}()
			return printInfo(cmd.OutOrStdout(), v)
		},
	}

	flags := cmd.Flags()
	flags.Uint32(flagTableBlocks, blocks.DefaultAllocBlocks, "number of blocks used by the allocation table")
	flags.Int64(flagSize, 1024*1024, "size of the image in bytes")
	flags.BoolP(flagForce, "f", false, "overwrite existing volume")
	lo.Must0(a.v.BindPFlags(flags))
	return cmd
}

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Prints information about the volume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(func(v *fefs.Volume) error {
				return printInfo(cmd.OutOrStdout(), v)
			})
		},
	}
}

func (a *app) lsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "Lists the directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(func(v *fefs.Volume) error {
				d, err := walk(v, splitPath(firstArg(args)))
				if err != nil {
					return err
				}
				entries, err := d.Entries()
				if err != nil {
					return err
				}
				for _, e := range entries {
					printEntry(cmd.OutOrStdout(), e, "")
				}
				return nil
			})
		},
	}
}

func (a *app) treeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tree [path]",
		Short: "Prints the directory tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(func(v *fefs.Volume) error {
				d, err := walk(v, splitPath(firstArg(args)))
				if err != nil {
					return err
				}
				return printTree(cmd.OutOrStdout(), d, "")
			})
		},
	}
}

func (a *app) mkdirCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Creates the directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parents, err := cmd.Flags().GetBool(flagParents)
			if err != nil {
				return errors.WithStack(err)
			}

			return a.withVolume(func(v *fefs.Volume) error {
				if !parents {
					d, name, err := parent(v, args[0])
					if err != nil {
						return err
					}
					return d.Mkdir(name)
				}

				d := v.Root()
				for _, segment := range splitPath(args[0]) {
					if err := d.Mkdir(segment); err != nil && !errors.Is(err, dir.ErrDirExist) {
						return err
					}
					sub, err := d.Cd(segment)
					if err != nil {
						return err
					}
					d = sub
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolP(flagParents, "p", false, "create missing parent directories")
	return cmd
}

func (a *app) putCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "put <host-file> <path>",
		Short: "Copies file from the host into the volume",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := afero.ReadFile(a.fs, args[0])
			if err != nil {
				return errors.Wrapf(err, "reading host file %q failed", args[0])
			}

			return a.withVolume(func(v *fefs.Volume) error {
				d, name, err := parent(v, args[1])
				if err != nil {
					return err
				}
				f, err := d.Open(name)
				if errors.Is(err, file.ErrNotFound) {
					f, err = d.CreateFile(name)
				}
				if err != nil {
					return err
				}
				return f.Write(content, file.OverWritten)
			})
		},
	}
}

func (a *app) catCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Prints content of the file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(func(v *fefs.Volume) error {
				d, name, err := parent(v, args[0])
				if err != nil {
					return err
				}
				f, err := d.Open(name)
				if err != nil {
					return err
				}
				_, err = f.ReadTo(cmd.OutOrStdout())
				return err
			})
		},
	}
}

func (a *app) rmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Deletes file or directory together with its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withVolume(func(v *fefs.Volume) error {
				d, name, err := parent(v, args[0])
				if err != nil {
					return err
				}
				return d.Delete(name)
			})
		},
	}
}

func printInfo(w io.Writer, v *fefs.Volume) error {
	info, err := v.Info()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "volume id:    %s\nblock size:   %d\nblocks:       %d\ntable blocks: %d\nroot block:   %d\nfree blocks:  %d\n",
		info.VolumeID, info.BlockSize, info.NBlocks, info.AllocBlocks, info.RootBlock, info.FreeBlocks)
	return errors.WithStack(err)
}

func printEntry(w io.Writer, e dir.Entry, indent string) {
	if e.Kind == blocks.DirectoryKind {
		fmt.Fprintf(w, "%s%s/\n", indent, e.Name)
		return
	}
	fmt.Fprintf(w, "%s%s %d\n", indent, e.Name, e.Size)
}

func printTree(w io.Writer, d *dir.Directory, indent string) error {
	entries, err := d.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		printEntry(w, e, indent)
		if e.Kind != blocks.DirectoryKind {
			continue
		}
		sub, err := d.Cd(e.Name)
		if err != nil {
			return err
		}
		if err := printTree(w, sub, indent+strings.Repeat(" ", 2)); err != nil {
			return err
		}
	}
	return nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
