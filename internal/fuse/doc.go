/*
Package fuse exposes the hareadfs union view to the kernel through FUSE.

The package is a thin layer over internal/union. Every request that reads
something is handed to the failover dispatcher (or the directory merger for
listings), and every request that would change something is answered with
EROFS without reaching a backend.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│              User Applications              │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Kernel VFS Layer / FUSE driver      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           hareadfs FUSE Layer               │  ← This Package
	│   go-fuse nodes (default) | cgofuse (tag)   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│    union.Dispatcher / union.Merger          │
	│    bounded calls, failover, health skip     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│    Backend roots (NFS mounts, local dirs)   │
	└─────────────────────────────────────────────┘

# Platform Support

Default Build (go-fuse):
  - Implementation: github.com/hanwen/go-fuse/v2, node API
  - Target: Linux

CGO Build (cgofuse):
  - Implementation: github.com/winfsp/cgofuse, path API
  - Built with: go build -tags cgofuse ./...

# Error Mapping

Errors from the union layer are converted with pkg/errors.ToErrno:

	NotFound            → ENOENT
	Timeout             → ETIMEDOUT
	ReadOnlyViolation   → EROFS
	Interrupted         → EINTR
	PermissionOrIO      → the backend's errno, EIO when it has none

# File Handles

Open only checks that some backend can open the path read-only; the
descriptor is closed again inside the same bounded call. Reads reopen the
file on whichever backend answers first, so a handle never pins a backend
that later hangs.

# Mount Options

ParseMountOptions understands fsname, subtype, allow_other, debug,
attr_timeout, entry_timeout and max_readahead. Any other -o option is passed
to the kernel unchanged. The mount is always read-only.

	opts, err := fuse.ParseMountOptions(nil, []string{"allow_other,attr_timeout=2"})
	if err != nil {
		return err
	}
	manager := fuse.CreatePlatformMountManager(filesystem, &fuse.MountConfig{
		MountPoint: "/mnt/union",
		Options:    opts,
	}, logger)
	if err := manager.Mount(ctx); err != nil {
		return err
	}
	defer manager.Unmount()
*/
package fuse
