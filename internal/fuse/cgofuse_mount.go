//go:build cgofuse
// +build cgofuse

package fuse

import (
	"context"

	"github.com/rs/zerolog"
)

// CgoFuseMountManager manages cgofuse-based mounts
type CgoFuseMountManager struct {
	filesystem *CgoFuseFS
}

// NewCgoFuseMountManager creates a new cgofuse mount manager
func NewCgoFuseMountManager(fsys *FileSystem, config *MountConfig, logger zerolog.Logger) *CgoFuseMountManager {
	if config == nil {
		config = &MountConfig{}
	}
	return &CgoFuseMountManager{filesystem: NewCgoFuseFS(fsys, config, logger)}
}

// Mount mounts the filesystem
func (m *CgoFuseMountManager) Mount(ctx context.Context) error {
	return m.filesystem.Mount(ctx)
}

// Unmount unmounts the filesystem
func (m *CgoFuseMountManager) Unmount() error {
	return m.filesystem.Unmount()
}

// IsMounted returns whether the filesystem is mounted
func (m *CgoFuseMountManager) IsMounted() bool {
	return m.filesystem.IsMounted()
}

// Wait blocks until the mount ends.
func (m *CgoFuseMountManager) Wait() {
	m.filesystem.Wait()
}

// GetStats returns filesystem statistics
func (m *CgoFuseMountManager) GetStats() FilesystemStats {
	return m.filesystem.GetStats()
}
