package looptest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/loop-test-harness/framework"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func writeConfigFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "looptest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func parseFlags(t *testing.T, args ...string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestResolveOptionsDefaults(t *testing.T) {
	opts, err := ResolveOptions(parseFlags(t), "", envLookup(nil))
	require.NoError(t, err)
	assert.Equal(t, Options{Loop: "basic"}, opts)
}

func TestResolveOptionsPrecedence(t *testing.T) {
	path := writeConfigFile(t, "fast: true\nloop: pinned\nloop_debug: true\n")

	opts, err := ResolveOptions(parseFlags(t), path, envLookup(nil))
	require.NoError(t, err)
	assert.Equal(t, Options{Fast: true, Loop: "pinned", LoopDebug: true}, opts)

	opts, err = ResolveOptions(parseFlags(t), path, envLookup(map[string]string{EnvLoop: "all", EnvFast: "false"}))
	require.NoError(t, err)
	assert.Equal(t, Options{Fast: false, Loop: "all", LoopDebug: true}, opts)

	opts, err = ResolveOptions(parseFlags(t, "--loop", "basic,bogus?", "--enable-loop-debug=false"), path,
		envLookup(map[string]string{EnvLoop: "all"}))
	require.NoError(t, err)
	assert.Equal(t, Options{Fast: true, Loop: "basic,bogus?", LoopDebug: false}, opts)
}

func TestResolveOptionsConfigFileFromEnvironment(t *testing.T) {
	path := writeConfigFile(t, "loop: pinned\n")
	opts, err := ResolveOptions(nil, "", envLookup(map[string]string{EnvConfigFile: path}))
	require.NoError(t, err)
	assert.Equal(t, "pinned", opts.Loop)
}

func TestResolveOptionsMissingRequiredConfigFile(t *testing.T) {
	_, err := ResolveOptions(nil, filepath.Join(t.TempDir(), "nope.yaml"), envLookup(nil))
	assert.Error(t, err)
}

func TestResolveOptionsInvalidValues(t *testing.T) {
	_, err := ResolveOptions(nil, writeConfigFile(t, "fast: [1, 2]\n"), envLookup(nil))
	assert.Error(t, err)

	_, err = ResolveOptions(nil, "", envLookup(map[string]string{EnvFast: "maybe"}))
	assert.EqualError(t, err, `invalid value for LOOPTEST_FAST: "maybe"`)
}

func TestOptionsRoundTripThroughConfig(t *testing.T) {
	config := framework.NewConfig()
	assert.Equal(t, DefaultOptions(), OptionsFromConfig(config))

	opts := Options{Fast: true, Loop: "all", LoopDebug: true}
	opts.Apply(config)
	assert.Equal(t, opts, OptionsFromConfig(config))
	assert.Equal(t, []string{OptionLoopDebug, OptionFast, OptionLoop}, config.OptionNames())
}
