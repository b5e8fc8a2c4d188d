package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/launchdarkly/loop-test-harness/demotests"
	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/logging"
	"github.com/launchdarkly/loop-test-harness/loops"
	"github.com/launchdarkly/loop-test-harness/looptest"
)

var errTestsFailed = errors.New("some tests failed")

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr, os.LookupEnv).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer, lookup func(string) (string, bool)) *cobra.Command {
	params := &commandParams{}
	cmd := &cobra.Command{
		Use:   commandName,
		Short: "Run the loop test suite",
		Long: `Runs the self-check suite for the loop test plugin: asynchronous tests and fixtures,
test servers and test clients, on every selected loop implementation.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd.Flags(), params, stdout, stderr, lookup)
			if err != nil && !errors.Is(err, errTestsFailed) {
				fmt.Fprintf(stderr, "Error: %s\n", err)
			}
			return err
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	params.addFlags(cmd.Flags())
	return cmd
}

func run(flags *pflag.FlagSet, params *commandParams, out, logOut io.Writer, lookup func(string) (string, bool)) error {
	lookup, err := params.envLookup(flags, lookup)
	if err != nil {
		return fmt.Errorf("reading environment file: %w", err)
	}
	opts, err := looptest.ResolveOptions(flags, params.configFile, lookup)
	if err != nil {
		return err
	}
	mainLogger := logging.FromEnv(logOut, lookup, params.debugAll).WithComponent("harness")
	mainLogger.Infof("Options: fast=%t loop=%q loop_debug=%t", opts.Fast, opts.Loop, opts.LoopDebug)

	config := framework.NewConfig()
	opts.Apply(config)

	fmt.Fprintln(out)
	framework.PrintFilterDescription(out, params.filters)

	fmt.Fprintln(out, "Running test suite")

	testLogger := &ConsoleTestLogger{
		Out:                  out,
		DebugOutputOnFailure: params.debug || params.debugAll,
		DebugOutputOnSuccess: params.debugAll,
	}

	results, err := demotests.RunTestSuite(config, mainLogger, params.filters.AsFilter, testLogger)
	if err != nil {
		var unknown *loops.UnknownLoopError
		if errors.As(err, &unknown) {
			return fmt.Errorf("invalid --%s: %w", looptest.OptionLoop, err)
		}
		return err
	}

	fmt.Fprintln(out)
	framework.PrintResults(out, results)
	if !results.OK() {
		fmt.Fprintf(out, "\nTo run the failed tests again:\n  %s\n", params.rerunCommand(opts, results.Failures))
		return errTestsFailed
	}
	return nil
}
