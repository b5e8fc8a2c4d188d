package main

import (
	"errors"
	"io/fs"
	"regexp"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/looptest"
)

const (
	commandName    = "looptest-harness"
	defaultEnvFile = ".env"
)

type commandParams struct {
	filters    framework.RegexFilters
	debug      bool
	debugAll   bool
	configFile string
	envFile    string
}

func (c *commandParams) addFlags(fs *pflag.FlagSet) {
	fs.Var(&c.filters.MustMatch, "run", "regex pattern(s) to select tests to run")
	fs.Var(&c.filters.MustNotMatch, "skip", "regex pattern(s) to select tests not to run")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging for failed tests")
	fs.BoolVar(&c.debugAll, "debug-all", false, "enable debug logging for all tests")
	fs.StringVar(&c.configFile, "config", "",
		"YAML file with loop options (default "+looptest.DefaultConfigFile+" if it exists)")
	fs.StringVar(&c.envFile, "env-file", defaultEnvFile, "file of environment variables to read")
	looptest.AddFlags(fs)
}

// envLookup returns a lookup function that sees the process environment and, for variables
// that are not set there, the contents of the env file. A missing env file is only an error
// if it was named explicitly.
func (c *commandParams) envLookup(flags *pflag.FlagSet, base func(string) (string, bool)) (func(string) (string, bool), error) {
	values, err := godotenv.Read(c.envFile)
	if err != nil {
		if flags.Changed("env-file") || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		values = nil
	}
	return func(name string) (string, bool) {
		if v, ok := base(name); ok {
			return v, true
		}
		v, ok := values[name]
		return v, ok
	}, nil
}

// rerunCommand builds a command line that runs only the failed tests again, with the same
// loop options.
func (c *commandParams) rerunCommand(opts looptest.Options, failures []framework.TestResult) string {
	var b commandBuilder
	b.add(commandName)
	b.add("--"+looptest.OptionLoop, opts.Loop)
	if opts.Fast {
		b.add("--" + looptest.OptionFast)
	}
	if opts.LoopDebug {
		b.add("--" + looptest.OptionLoopDebug)
	}
	if c.configFile != "" {
		b.add("--config", c.configFile)
	}
	b.add("--debug")
	for _, f := range failures {
		b.add("--run", "^"+regexp.QuoteMeta(f.TestID.String())+"$")
	}
	return b.String()
}

type commandBuilder []string

func (b *commandBuilder) add(args ...string) {
	for _, a := range args {
		*b = append(*b, shellescape.Quote(a))
	}
}

func (b commandBuilder) String() string {
	return strings.Join(b, " ")
}
