//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"

	"github.com/rs/zerolog"
)

// PlatformFileSystem is the mount surface shared by the go-fuse and cgofuse bindings.
type PlatformFileSystem interface {
	Mount(ctx context.Context) error
	Unmount() error
	IsMounted() bool
	Wait()
	GetStats() FilesystemStats
}

// CreatePlatformMountManager creates the go-fuse mount manager
func CreatePlatformMountManager(filesystem *FileSystem, config *MountConfig, logger zerolog.Logger) PlatformFileSystem {
	return NewMountManager(filesystem, config, logger)
}
