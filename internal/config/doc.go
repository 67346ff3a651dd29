/*
Package config provides configuration management for hareadfs.

Settings come from three sources, later ones winning:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (HAREADFS_*)                      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (-c)             │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (NewDefault)                         │
	└─────────────────────────────────────────────┘

Command line arguments (the backend list, the mount point and -o options) are
applied by the caller on top of the loaded configuration, before Validate.

# Configuration Structure

	global:
	  name: hareadfs
	  version: "2024.08.20"
	  log_level: INFO        # DEBUG, INFO, WARN, ERROR
	  log_format: text       # text or json
	  log_file: ""           # empty logs to stderr

	backends:
	  roots: [/mnt/nfs1, /mnt/nfs2]   # priority order
	  delimiter: ","

	mount:
	  mount_point: /mnt/union
	  fsname: hareadfs
	  subtype: hareadfs
	  allow_other: false
	  attr_timeout: 1s
	  entry_timeout: 1s
	  options: []            # passed to the kernel unchanged

	timeouts:
	  request: 5s            # per backend attempt
	  probe: 2s
	  probe_interval: 1s
	  probe_slots: 5

	monitoring:
	  metrics:
	    enabled: true
	    namespace: hareadfs
	  status:
	    enabled: false
	    address: 127.0.0.1:9464

# Environment Variables

Every key can be overridden with its dotted path upper-cased, dots replaced by
underscores and prefixed with HAREADFS_:

	HAREADFS_GLOBAL_LOG_LEVEL=DEBUG
	HAREADFS_TIMEOUTS_REQUEST=3s
	HAREADFS_BACKENDS_ROOTS=/mnt/a,/mnt/b

# Validation

Validate runs the struct tag rules first and then the cross-field rules: backend
roots must be absolute and unique after cleaning, and the mount point must not
be one of the roots.

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
*/
package config
