package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/looptest"
)

func noEnv(string) (string, bool) { return "", false }

func runCommand(t *testing.T, lookup func(string) (string, bool), args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand(&stdout, &stderr, lookup)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCommandRunsSelectedTests(t *testing.T) {
	dir := t.TempDir()
	stdout, _, err := runCommand(t, noEnv,
		"--fast", "--loop", "basic", "--run", "^loops/", "--env-file", writeFile(t, dir, "test.env", ""))
	require.NoError(t, err)
	assert.Contains(t, stdout, "skip any not matching \"^loops/\"")
	assert.Contains(t, stdout, "[loops/nested work runs inline[basic]]")
	assert.Contains(t, stdout, "All tests passed")
	assert.NotContains(t, stdout, "FAILED")
}

func TestCommandRejectsUnknownLoop(t *testing.T) {
	_, stderr, err := runCommand(t, noEnv, "--loop", "basic,bogus")
	require.Error(t, err)
	assert.Contains(t, stderr, `invalid --loop: unknown loop "bogus", available loops: [basic pinned]`)
}

func TestCommandRejectsExtraArguments(t *testing.T) {
	_, _, err := runCommand(t, noEnv, "extra")
	assert.Error(t, err)
}

func TestCommandFailsForMissingExplicitEnvFile(t *testing.T) {
	_, stderr, err := runCommand(t, noEnv, "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, stderr, "reading environment file")
}

func TestEnvFileSuppliesUnsetVariables(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, "test.env", "LOOPTEST_LOOP=pinned\nLOOPTEST_FAST=true\n")

	params := &commandParams{}
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	params.addFlags(flags)
	require.NoError(t, flags.Parse([]string{"--env-file", envFile}))

	lookup, err := params.envLookup(flags, func(name string) (string, bool) {
		if name == looptest.EnvFast {
			return "false", true
		}
		return "", false
	})
	require.NoError(t, err)

	opts, err := looptest.ResolveOptions(flags, "", lookup)
	require.NoError(t, err)
	assert.Equal(t, "pinned", opts.Loop)
	assert.False(t, opts.Fast)
}

func TestMissingDefaultEnvFileIsIgnored(t *testing.T) {
	params := &commandParams{envFile: filepath.Join(t.TempDir(), defaultEnvFile)}
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	lookup, err := params.envLookup(flags, noEnv)
	require.NoError(t, err)
	_, ok := lookup(looptest.EnvLoop)
	assert.False(t, ok)
}

func TestRerunCommand(t *testing.T) {
	params := &commandParams{configFile: "my config.yaml"}
	opts := looptest.Options{Fast: true, Loop: "basic,uvloop?"}
	failures := []framework.TestResult{
		{TestID: framework.TestID{Path: []string{"loops/async test[basic]"}}},
	}
	assert.Equal(t,
		`looptest-harness --loop 'basic,uvloop?' --fast --config 'my config.yaml' --debug --run '^loops/async test\[basic\]$'`,
		params.rerunCommand(opts, failures))
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
