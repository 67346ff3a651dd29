package fuse

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/rs/zerolog"

	herrors "github.com/hareadfs/hareadfs/pkg/errors"
	"github.com/hareadfs/hareadfs/pkg/retry"
)

// MountConfig contains mount-specific configuration
type MountConfig struct {
	MountPoint string        `yaml:"mount_point"`
	Options    *MountOptions `yaml:"options"`
}

// MountManager manages FUSE mount operations
type MountManager struct {
	mu         sync.Mutex
	filesystem *FileSystem
	server     *fuse.Server
	config     *MountConfig
	mounted    bool
	logger     zerolog.Logger

	// unmountRetry retries while the kernel reports the mount busy.
	unmountRetry *retry.Retryer
}

// NewMountManager creates a new mount manager
func NewMountManager(filesystem *FileSystem, config *MountConfig, logger zerolog.Logger) *MountManager {
	if config == nil {
		config = &MountConfig{}
	}
	if config.Options == nil {
		config.Options = DefaultMountOptions()
	}

	m := &MountManager{
		filesystem: filesystem,
		config:     config,
		logger:     logger.With().Str("component", "mount").Logger(),
	}
	m.unmountRetry = retry.New(retry.DefaultConfig()).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		m.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("mount busy, retrying unmount")
	})
	return m
}

// Mount mounts the filesystem at the configured mount point and starts serving.
func (m *MountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return herrors.NewError(herrors.ErrCodeMountFailed, "filesystem is already mounted")
	}

	if err := m.validateMountPoint(); err != nil {
		return herrors.NewError(herrors.ErrCodeMountFailed, "invalid mount point").
			WithPath(m.config.MountPoint).WithCause(err)
	}

	server, err := fs.Mount(m.config.MountPoint, m.filesystem.Root(), m.buildFUSEOptions())
	if err != nil {
		return herrors.NewError(herrors.ErrCodeMountFailed, "failed to mount filesystem").
			WithPath(m.config.MountPoint).WithCause(err)
	}

	m.server = server
	m.mounted = true
	m.logger.Info().Str("mount_point", m.config.MountPoint).Msg("filesystem mounted")

	go func() {
		server.Wait()
		m.mu.Lock()
		m.mounted = false
		m.mu.Unlock()
		m.logger.Info().Msg("FUSE server stopped")
	}()

	return nil
}

// Unmount unmounts the filesystem, falling back to a lazy then forced unmount.
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted || m.server == nil {
		return herrors.NewError(herrors.ErrCodeUnmountFailed, "filesystem is not mounted")
	}

	m.logger.Info().Str("mount_point", m.config.MountPoint).Msg("unmounting filesystem")

	if err := m.unmountRetry.Do(m.server.Unmount); err != nil {
		m.logger.Warn().Err(err).Msg("normal unmount failed, trying force unmount")
		if forceErr := m.forceUnmount(); forceErr != nil {
			return herrors.NewError(herrors.ErrCodeUnmountFailed,
				fmt.Sprintf("unmount failed: %v (force unmount also failed: %v)", err, forceErr)).
				WithPath(m.config.MountPoint).WithCause(err)
		}
	}

	m.mounted = false
	m.logger.Info().Msg("filesystem unmounted")
	return nil
}

// IsMounted checks if the filesystem is currently mounted
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// GetMountPoint returns the current mount point
func (m *MountManager) GetMountPoint() string {
	return m.config.MountPoint
}

// Wait blocks until the FUSE server exits.
func (m *MountManager) Wait() {
	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server != nil {
		server.Wait()
	}
}

// GetStats returns filesystem statistics
func (m *MountManager) GetStats() FilesystemStats {
	if m.filesystem == nil {
		return FilesystemStats{}
	}
	return m.filesystem.GetStats()
}

func (m *MountManager) validateMountPoint() error {
	if m.config.MountPoint == "" {
		return fmt.Errorf("mount point cannot be empty")
	}

	info, err := os.Stat(m.config.MountPoint)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("mount point does not exist: %s", m.config.MountPoint)
		}
		return fmt.Errorf("cannot access mount point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point is not a directory: %s", m.config.MountPoint)
	}

	entries, err := os.ReadDir(m.config.MountPoint)
	if err != nil {
		return fmt.Errorf("cannot read mount point directory: %w", err)
	}
	if len(entries) > 0 {
		m.logger.Warn().Str("mount_point", m.config.MountPoint).Msg("mount point is not empty")
	}

	if isMounted("/proc/mounts", m.config.MountPoint) {
		return fmt.Errorf("mount point %s is already mounted", m.config.MountPoint)
	}
	return nil
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	o := m.config.Options
	attrTimeout := o.AttrTimeout
	entryTimeout := o.EntryTimeout

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:         o.Subtype,
			FsName:       o.FSName,
			Debug:        o.Debug,
			AllowOther:   o.AllowOther,
			MaxReadAhead: o.MaxReadAhead,
		},
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
	}

	opts.Options = append(opts.Options, "ro")
	if o.Subtype != "" {
		opts.Options = append(opts.Options, fmt.Sprintf("subtype=%s", o.Subtype))
	}
	opts.Options = append(opts.Options, o.Extra...)

	return opts
}

func (m *MountManager) forceUnmount() error {
	// Try lazy unmount first
	err := syscall.Unmount(m.config.MountPoint, 2)
	if err == nil {
		return nil
	}
	return syscall.Unmount(m.config.MountPoint, 1)
}

// isMounted reports whether mountPoint appears as a mount target in the mounts table.
func isMounted(mountsFile, mountPoint string) bool {
	f, err := os.Open(mountsFile)
	if err != nil {
		// If we can't read the table, assume not mounted
		return false
	}
	defer f.Close()

	target := filepath.Clean(mountPoint)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == target {
			return true
		}
	}
	return false
}
