//go:build !test

package cache

// MaxCacheTries is the maximum number of probes using open addressing before taking over a block in cache.
const MaxCacheTries = 10
