package fuse

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// MountOptions contains FUSE mount options
type MountOptions struct {
	FSName       string        `mapstructure:"fsname" yaml:"fsname"`
	Subtype      string        `mapstructure:"subtype" yaml:"subtype"`
	AllowOther   bool          `mapstructure:"allow_other" yaml:"allow_other"`
	Debug        bool          `mapstructure:"debug" yaml:"debug"`
	AttrTimeout  time.Duration `mapstructure:"attr_timeout" yaml:"attr_timeout"`
	EntryTimeout time.Duration `mapstructure:"entry_timeout" yaml:"entry_timeout"`
	MaxReadAhead int           `mapstructure:"max_readahead" yaml:"max_readahead"`

	// Extra holds options passed to the kernel unchanged.
	Extra []string `mapstructure:"-" yaml:"extra,omitempty"`
}

// DefaultMountOptions returns the options used when none are given.
func DefaultMountOptions() *MountOptions {
	return &MountOptions{
		FSName:       "hareadfs",
		Subtype:      "hareadfs",
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
}

// knownOptions are decoded into MountOptions; everything else is passed through.
var knownOptions = map[string]bool{
	"fsname":        true,
	"subtype":       true,
	"allow_other":   true,
	"debug":         true,
	"attr_timeout":  true,
	"entry_timeout": true,
	"max_readahead": true,
}

// ParseMountOptions parses -o style option strings ("a,b=c") on top of base.
// The mount is always read-only: "ro" is accepted and ignored, "rw" is rejected.
func ParseMountOptions(base *MountOptions, opts []string) (*MountOptions, error) {
	result := DefaultMountOptions()
	if base != nil {
		copied := *base
		copied.Extra = append([]string(nil), base.Extra...)
		result = &copied
	}

	known := make(map[string]interface{})
	for _, opt := range opts {
		for _, item := range strings.Split(opt, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			key, value, hasValue := strings.Cut(item, "=")
			switch {
			case key == "ro":
				continue
			case key == "rw":
				return nil, fmt.Errorf("mount option %q: filesystem is read-only", item)
			case knownOptions[key] && hasValue:
				known[key] = value
			case knownOptions[key]:
				known[key] = true
			default:
				result.Extra = append(result.Extra, item)
			}
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		Result:           result,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create option decoder: %w", err)
	}
	if err := decoder.Decode(known); err != nil {
		return nil, fmt.Errorf("invalid mount options: %w", err)
	}
	return result, nil
}

// secondsToDurationHook accepts plain numbers of seconds ("1.5") for durations,
// the way libfuse spells attr_timeout and entry_timeout.
func secondsToDurationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	secs, err := strconv.ParseFloat(data.(string), 64)
	if err != nil {
		return data, nil
	}
	return time.Duration(secs * float64(time.Second)), nil
}
