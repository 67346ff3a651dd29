package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hareadfs/hareadfs/internal/config"
)

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"/usr/bin/hareadfs"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestHelpAndVersion(t *testing.T) {
	code, out, _ := runCLI("-h")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "usage: hareadfs comma,separated,list,of,underlying-fss-paths mountpoint [options]")
	assert.Contains(t, out, "--version")

	code, out, _ = runCLI("--version")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "hareadfs version 2024.08.20\n", out)

	code, out, _ = runCLI("-V", "/a,/b", "/mnt")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "version")
}

func TestArgumentErrors(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		stderr string
	}{
		{"unknown flag", []string{"--bogus"}, "Invalid arguments"},
		{"missing path", nil, "Missing path"},
		{"relative backend", []string{"a,b", "/mnt/union"}, "Invalid arguments"},
		{"too many arguments", []string{"/a", "/mnt/union", "extra"}, "Invalid arguments"},
		{"missing mount point", []string{"/a,/b"}, "validation"},
		{"rw option", []string{"/a", "/mnt/union", "-o", "rw"}, "read-only"},
		{"mount point is a backend", []string{"/a,/mnt/union", "/mnt/union"}, "also a backend root"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := runCLI(tt.args...)
			assert.Equal(t, exitFailure, code)
			assert.Contains(t, stderr, tt.stderr)
		})
	}
}

func TestWriteConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "hareadfs.yaml")

	code, out, stderr := runCLI("/srv/a, /srv/b", filepath.Join(dir, "mnt"),
		"-o", "allow_other,attr_timeout=2", "--status-addr", "127.0.0.1:9999",
		"--log-level", "debug", "--write-config", path)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/a", "/srv/b"}, cfg.Backends.Roots)
	assert.Equal(t, filepath.Join(dir, "mnt"), cfg.Mount.MountPoint)
	assert.Equal(t, []string{"allow_other,attr_timeout=2"}, cfg.Mount.Options)
	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.True(t, cfg.Monitoring.Status.Enabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.Monitoring.Status.Address)

	// The written file is enough to start from.
	code, _, stderr = runCLI("-c", path, "--write-config", filepath.Join(dir, "again.yaml"))
	assert.Equal(t, exitOK, code, stderr)
}

func TestConfigFileErrors(t *testing.T) {
	code, _, _ := runCLI("-c", filepath.Join(t.TempDir(), "missing.yaml"), "/a", "/mnt/union")
	assert.Equal(t, exitFailure, code)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("timeouts:\n  request: 0s\n"), 0o600))
	code, _, stderr := runCLI("-c", bad, "/a", "/mnt/union")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "Request")
}

func TestMountOptionsFromConfig(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Mount.AllowOther = true
	cfg.Mount.Options = []string{"attr_timeout=0.5", "default_permissions"}

	opts, err := mountOptions(cfg)
	require.NoError(t, err)
	assert.True(t, opts.AllowOther)
	assert.Equal(t, 500*time.Millisecond, opts.AttrTimeout)
	assert.Equal(t, time.Second, opts.EntryTimeout)
	assert.Equal(t, []string{"default_permissions"}, opts.Extra)
}
