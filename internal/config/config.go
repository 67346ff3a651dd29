package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/hareadfs/hareadfs/internal/executor"
	"github.com/hareadfs/hareadfs/internal/health"
	"github.com/hareadfs/hareadfs/internal/union"
	herrors "github.com/hareadfs/hareadfs/pkg/errors"
)

// EnvPrefix prefixes every environment override, e.g. HAREADFS_TIMEOUTS_REQUEST=3s.
const EnvPrefix = "HAREADFS"

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `mapstructure:"global" yaml:"global"`
	Backends   BackendsConfig   `mapstructure:"backends" yaml:"backends"`
	Mount      MountConfig      `mapstructure:"mount" yaml:"mount"`
	Timeouts   TimeoutConfig    `mapstructure:"timeouts" yaml:"timeouts"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	Name      string `mapstructure:"name" yaml:"name" validate:"required"`
	Version   string `mapstructure:"version" yaml:"version" validate:"required"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" validate:"required,oneof=text json"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file"`
}

// BackendsConfig lists the backend roots in priority order.
type BackendsConfig struct {
	Roots     []string `mapstructure:"roots" yaml:"roots" validate:"required,min=1,dive,required"`
	Delimiter string   `mapstructure:"delimiter" yaml:"delimiter" validate:"required"`
}

// MountConfig represents mount settings
type MountConfig struct {
	MountPoint   string        `mapstructure:"mount_point" yaml:"mount_point" validate:"required"`
	FSName       string        `mapstructure:"fsname" yaml:"fsname"`
	Subtype      string        `mapstructure:"subtype" yaml:"subtype"`
	AllowOther   bool          `mapstructure:"allow_other" yaml:"allow_other"`
	Debug        bool          `mapstructure:"debug" yaml:"debug"`
	AttrTimeout  time.Duration `mapstructure:"attr_timeout" yaml:"attr_timeout" validate:"gte=0"`
	EntryTimeout time.Duration `mapstructure:"entry_timeout" yaml:"entry_timeout" validate:"gte=0"`
	Options      []string      `mapstructure:"options" yaml:"options,omitempty"`
}

// TimeoutConfig represents timeout settings
type TimeoutConfig struct {
	Request       time.Duration `mapstructure:"request" yaml:"request" validate:"gt=0"`
	Probe         time.Duration `mapstructure:"probe" yaml:"probe" validate:"gt=0"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval" validate:"gt=0"`
	ProbeSlots    int           `mapstructure:"probe_slots" yaml:"probe_slots" validate:"min=1"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Status  StatusConfig  `mapstructure:"status" yaml:"status"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace" validate:"omitempty,alphanum"`
}

// StatusConfig represents the status HTTP endpoint
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address" validate:"omitempty,hostname_port"`
}

var validate = validator.New()

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			Name:      "hareadfs",
			Version:   "2024.08.20",
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Backends: BackendsConfig{
			Delimiter: ",",
		},
		Mount: MountConfig{
			FSName:       "hareadfs",
			Subtype:      "hareadfs",
			AttrTimeout:  time.Second,
			EntryTimeout: time.Second,
		},
		Timeouts: TimeoutConfig{
			Request:       union.DefaultConfig().RequestTimeout,
			Probe:         health.DefaultMonitorConfig().ProbeTimeout,
			ProbeInterval: health.DefaultMonitorConfig().ProbeInterval,
			ProbeSlots:    executor.DefaultRingSize,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "hareadfs",
			},
			Status: StatusConfig{
				Enabled: false,
				Address: "127.0.0.1:9464",
			},
		},
	}
}

// Load builds a configuration from defaults, an optional YAML file and
// HAREADFS_* environment variables, in increasing order of precedence. An empty
// path skips the file. The result is not validated.
func Load(path string) (*Configuration, error) {
	v := viper.New()
	setDefaults(v, NewDefault())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, herrors.NewError(herrors.ErrCodeConfigLoad, "failed to read config file").
					WithPath(path).WithCause(err)
			}
		}
	}

	cfg := &Configuration{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, herrors.NewError(herrors.ErrCodeConfigLoad, "failed to decode configuration").
			WithPath(path).WithCause(err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Configuration) {
	v.SetDefault("global.name", d.Global.Name)
	v.SetDefault("global.version", d.Global.Version)
	v.SetDefault("global.log_level", d.Global.LogLevel)
	v.SetDefault("global.log_format", d.Global.LogFormat)
	v.SetDefault("global.log_file", d.Global.LogFile)

	v.SetDefault("backends.roots", d.Backends.Roots)
	v.SetDefault("backends.delimiter", d.Backends.Delimiter)

	v.SetDefault("mount.mount_point", d.Mount.MountPoint)
	v.SetDefault("mount.fsname", d.Mount.FSName)
	v.SetDefault("mount.subtype", d.Mount.Subtype)
	v.SetDefault("mount.allow_other", d.Mount.AllowOther)
	v.SetDefault("mount.debug", d.Mount.Debug)
	v.SetDefault("mount.attr_timeout", d.Mount.AttrTimeout)
	v.SetDefault("mount.entry_timeout", d.Mount.EntryTimeout)
	v.SetDefault("mount.options", d.Mount.Options)

	v.SetDefault("timeouts.request", d.Timeouts.Request)
	v.SetDefault("timeouts.probe", d.Timeouts.Probe)
	v.SetDefault("timeouts.probe_interval", d.Timeouts.ProbeInterval)
	v.SetDefault("timeouts.probe_slots", d.Timeouts.ProbeSlots)

	v.SetDefault("monitoring.metrics.enabled", d.Monitoring.Metrics.Enabled)
	v.SetDefault("monitoring.metrics.namespace", d.Monitoring.Metrics.Namespace)
	v.SetDefault("monitoring.status.enabled", d.Monitoring.Status.Enabled)
	v.SetDefault("monitoring.status.address", d.Monitoring.Status.Address)
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return herrors.NewError(herrors.ErrCodeConfigSave, "failed to marshal config").WithCause(err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return herrors.NewError(herrors.ErrCodeConfigSave, "failed to create config directory").
			WithPath(filename).WithCause(err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return herrors.NewError(herrors.ErrCodeConfigSave, "failed to write config file").
			WithPath(filename).WithCause(err)
	}

	return nil
}

// Validate checks struct tags first, then the rules that span fields.
func (c *Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return herrors.NewError(herrors.ErrCodeConfigValidation, formatValidationError(err).Error()).WithCause(err)
	}
	if err := c.validateCustomRules(); err != nil {
		return herrors.NewError(herrors.ErrCodeConfigValidation, err.Error()).WithCause(err)
	}
	return nil
}

func (c *Configuration) validateCustomRules() error {
	seen := make(map[string]int, len(c.Backends.Roots))
	for i, root := range c.Backends.Roots {
		if !filepath.IsAbs(root) {
			return fmt.Errorf("backends.roots[%d]: %q is not an absolute path", i, root)
		}
		clean := filepath.Clean(root)
		if j, dup := seen[clean]; dup {
			return fmt.Errorf("backends.roots[%d]: %q duplicates backends.roots[%d]", i, root, j)
		}
		seen[clean] = i
	}

	if _, isRoot := seen[filepath.Clean(c.Mount.MountPoint)]; isRoot {
		return fmt.Errorf("mount.mount_point: %q is also a backend root", c.Mount.MountPoint)
	}

	if c.Monitoring.Status.Enabled && c.Monitoring.Status.Address == "" {
		return fmt.Errorf("monitoring.status.address: required when the status endpoint is enabled")
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}

// MonitorConfig returns the health monitor settings.
func (c *Configuration) MonitorConfig() health.MonitorConfig {
	return health.MonitorConfig{
		ProbeTimeout:  c.Timeouts.Probe,
		ProbeInterval: c.Timeouts.ProbeInterval,
		ProbeSlots:    c.Timeouts.ProbeSlots,
	}
}

// UnionConfig returns the dispatcher settings.
func (c *Configuration) UnionConfig() union.Config {
	return union.Config{RequestTimeout: c.Timeouts.Request}
}
