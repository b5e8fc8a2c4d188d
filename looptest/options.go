package looptest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
	"gopkg.in/yaml.v3"

	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/loops"
)

// Names of the session options and of the command-line flags that set them.
const (
	OptionFast      = "fast"
	OptionLoop      = "loop"
	OptionLoopDebug = "enable-loop-debug"
)

// Environment variables that set the options when the corresponding flag is not given.
const (
	EnvFast       = "LOOPTEST_FAST"
	EnvLoop       = "LOOPTEST_LOOP"
	EnvLoopDebug  = "LOOPTEST_LOOP_DEBUG"
	EnvConfigFile = "LOOPTEST_CONFIG"
)

// DefaultConfigFile is read if it exists and no other config file was specified.
const DefaultConfigFile = "looptest.yaml"

// Options are the settings of the loop plugin.
type Options struct {
	// Fast skips the drain grace period and the leak warnings when loops are released.
	Fast bool `yaml:"fast"`
	// Loop is the loop selection: a comma-separated list of loop names, each optionally
	// followed by "?", or "all".
	Loop string `yaml:"loop"`
	// LoopDebug enables debug instrumentation on every loop the plugin creates.
	LoopDebug bool `yaml:"loop_debug"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{Loop: loops.BasicLoopName}
}

// AddFlags registers the command-line flags for the options.
func AddFlags(flags *pflag.FlagSet) {
	defaults := DefaultOptions()
	flags.Bool(OptionFast, defaults.Fast, "run tests faster by not waiting for connections to close")
	flags.String(OptionLoop, defaults.Loop,
		`run tests with specific loop implementations: comma-separated names, a trailing "?" marks one as optional, or "all"`)
	flags.Bool(OptionLoopDebug, defaults.LoopDebug, "enable debug instrumentation on test loops")
}

// LoadConfigFile reads options from a YAML file on top of base. A missing file is an error
// only if required is true.
func LoadConfigFile(path string, required bool, base Options) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return base, nil
		}
		return base, err
	}
	ret := base
	if err := yaml.Unmarshal(data, &ret); err != nil {
		return base, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return ret, nil
}

// ApplyEnv overrides options with any of the LOOPTEST_ environment variables that are set.
func (o *Options) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if value, ok := lookup(EnvLoop); ok && value != "" {
		o.Loop = value
	}
	for _, b := range []struct {
		name  string
		field *bool
	}{{EnvFast, &o.Fast}, {EnvLoopDebug, &o.LoopDebug}} {
		if value, ok := lookup(b.name); ok && value != "" {
			parsed, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %q", b.name, value)
			}
			*b.field = parsed
		}
	}
	return nil
}

// ApplyFlags overrides options with the flags that were given on the command line.
func (o *Options) ApplyFlags(flags *pflag.FlagSet) error {
	var err error
	if flags.Changed(OptionFast) {
		if o.Fast, err = flags.GetBool(OptionFast); err != nil {
			return err
		}
	}
	if flags.Changed(OptionLoop) {
		if o.Loop, err = flags.GetString(OptionLoop); err != nil {
			return err
		}
	}
	if flags.Changed(OptionLoopDebug) {
		if o.LoopDebug, err = flags.GetBool(OptionLoopDebug); err != nil {
			return err
		}
	}
	return nil
}

// ResolveOptions computes the options from, in increasing order of precedence: the defaults,
// the config file, the environment and the command-line flags. If configFile is empty, the
// LOOPTEST_CONFIG variable or DefaultConfigFile is used.
func ResolveOptions(flags *pflag.FlagSet, configFile string, lookup func(string) (string, bool)) (Options, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	required := configFile != ""
	if !required {
		if value, ok := lookup(EnvConfigFile); ok && value != "" {
			configFile, required = value, true
		} else {
			configFile = DefaultConfigFile
		}
	}
	opts, err := LoadConfigFile(configFile, required, DefaultOptions())
	if err != nil {
		return opts, err
	}
	if err := opts.ApplyEnv(lookup); err != nil {
		return opts, err
	}
	if flags != nil {
		if err := opts.ApplyFlags(flags); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// Apply stores the options in the session configuration.
func (o Options) Apply(config *framework.Config) {
	config.SetOption(OptionFast, ldvalue.Bool(o.Fast))
	config.SetOption(OptionLoop, ldvalue.String(o.Loop))
	config.SetOption(OptionLoopDebug, ldvalue.Bool(o.LoopDebug))
}

// OptionsFromConfig reads the options back from a session configuration. Options that were
// never set have their default values.
func OptionsFromConfig(config *framework.Config) Options {
	ret := DefaultOptions()
	ret.Fast = config.Option(OptionFast).BoolValue()
	ret.LoopDebug = config.Option(OptionLoopDebug).BoolValue()
	if loop := config.Option(OptionLoop); loop.IsString() && loop.StringValue() != "" {
		ret.Loop = loop.StringValue()
	}
	return ret
}
