package framework

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTestLogger struct {
	started  []string
	finished []string
	skipped  []string
	errors   []string
}

func (r *recordingTestLogger) TestStarted(id TestID) { r.started = append(r.started, id.String()) }
func (r *recordingTestLogger) TestError(id TestID, err error) {
	r.errors = append(r.errors, id.String()+": "+err.Error())
}
func (r *recordingTestLogger) TestFinished(id TestID, failed bool, _ CapturedOutput) {
	r.finished = append(r.finished, id.String())
}
func (r *recordingTestLogger) TestSkipped(id TestID, reason string) {
	r.skipped = append(r.skipped, id.String()+": "+reason)
}

type paramPlugin struct {
	argName string
	values  []interface{}
	ids     []string
}

func (p paramPlugin) Name() string { return "param" }

func (p paramPlugin) GenerateTests(m *Metafunc) error {
	if !m.HasFixture(p.argName) {
		return nil
	}
	return m.Parametrize(p.argName, p.values, p.ids)
}

func TestSessionRunsSyncTestWithFixtures(t *testing.T) {
	s := NewSession(nil, nil)
	s.AddFixture(&FixtureDef{Name: "base", Func: func(args Args) (interface{}, error) {
		return 40, nil
	}})
	s.AddFixture(&FixtureDef{Name: "answer", ArgNames: []string{"base"}, Func: func(args Args) (interface{}, error) {
		return Value[int](args, "base") + 2, nil
	}})

	var got Args
	s.AddTest("uses answer", func(t *T, args Args) { got = args }, "answer")

	results, err := s.Run(nil, nil)
	require.NoError(t, err)
	assert.True(t, results.OK())
	assert.Equal(t, Args{"answer": 42}, got)
}

func TestFixtureClosureIncludesTransitiveNames(t *testing.T) {
	s := NewSession(nil, nil)
	s.AddFixture(&FixtureDef{Name: "a", ArgNames: []string{"b", "request"}, Func: FixtureFunc(nil)})
	s.AddFixture(&FixtureDef{Name: "b", ArgNames: []string{"c"}, Func: FixtureFunc(nil)})
	s.AddTest("t", func(t *T, args Args) {}, "a")

	items, err := s.Collect()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"a", "b", "request", "c"}, items[0].FixtureNames)
}

func TestFinalizersRunInReverseOrderAfterFailure(t *testing.T) {
	var order []string
	s := NewSession(nil, nil)
	for _, name := range []string{"first", "second"} {
		name := name
		s.AddFixture(&FixtureDef{Name: name, ArgNames: []string{"request"}, Func: func(args Args) (interface{}, error) {
			Value[*FixtureRequest](args, "request").AddFinalizer(func() error {
				order = append(order, name)
				return nil
			})
			return name, nil
		}})
	}
	s.AddTest("fails", func(t *T, args Args) {
		order = append(order, "body")
		require.Fail(t, "deliberate")
	}, "first", "second")

	results, err := s.Run(nil, nil)
	require.NoError(t, err)
	assert.False(t, results.OK())
	assert.Equal(t, []string{"body", "second", "first"}, order)
}

func TestFixtureSetupErrorAbortsTestButFinalizesEarlierFixtures(t *testing.T) {
	var finalized, bodyRan bool
	s := NewSession(nil, nil)
	s.AddFixture(&FixtureDef{Name: "good", ArgNames: []string{"request"}, Func: func(args Args) (interface{}, error) {
		Value[*FixtureRequest](args, "request").AddFinalizer(func() error {
			finalized = true
			return nil
		})
		return "ok", nil
	}})
	s.AddFixture(&FixtureDef{Name: "bad", Func: func(args Args) (interface{}, error) {
		return nil, errors.New("no good")
	}})
	s.AddTest("t", func(t *T, args Args) { bodyRan = true }, "good", "bad")

	logger := &recordingTestLogger{}
	results, err := s.Run(nil, logger)
	require.NoError(t, err)
	require.Len(t, results.Failures, 1)
	assert.False(t, bodyRan)
	assert.True(t, finalized)
	assert.Equal(t, []string{`t: setup failed: fixture "bad": no good`}, logger.errors)
}

func TestFinalizerErrorFailsTest(t *testing.T) {
	s := NewSession(nil, nil)
	s.AddFixture(&FixtureDef{Name: "leaky", ArgNames: []string{"request"}, Func: func(args Args) (interface{}, error) {
		Value[*FixtureRequest](args, "request").AddFinalizer(func() error {
			return errors.New("could not close")
		})
		return nil, nil
	}})
	s.AddTest("t", func(t *T, args Args) {}, "leaky")

	results, err := s.Run(nil, nil)
	require.NoError(t, err)
	require.Len(t, results.Failures, 1)
	require.Len(t, results.Failures[0].Errors, 1)
	assert.Equal(t, `teardown of fixture "leaky" failed: could not close`, results.Failures[0].Errors[0].Error())
}

func TestUnknownFixtureFailsSetup(t *testing.T) {
	s := NewSession(nil, nil)
	s.AddTest("t", func(t *T, args Args) {}, "nonexistent")

	results, err := s.Run(nil, nil)
	require.NoError(t, err)
	require.Len(t, results.Failures, 1)
	assert.Contains(t, results.Failures[0].Errors[0].Error(), `fixture "nonexistent": fixture not found`)
}

func TestParametrizeProducesOneItemPerValue(t *testing.T) {
	s := NewSession(nil, nil)
	s.AddPlugin(paramPlugin{argName: "size", values: []interface{}{1, 2}, ids: []string{"small", "large"}})

	var seen []int
	s.AddTest("sized", func(t *T, args Args) { seen = append(seen, Value[int](args, "size")) }, "size")

	logger := &recordingTestLogger{}
	results, err := s.Run(nil, logger)
	require.NoError(t, err)
	assert.True(t, results.OK())
	assert.Equal(t, []int{1, 2}, seen)
	assert.Equal(t, []string{"sized[small]", "sized[large]"}, logger.finished)
}

func TestEmptyParameterSetSkipsTest(t *testing.T) {
	s := NewSession(nil, nil)
	s.AddPlugin(paramPlugin{argName: "size"})
	s.AddTest("sized", func(t *T, args Args) { t.Errorf("should not run") }, "size")

	logger := &recordingTestLogger{}
	results, err := s.Run(nil, logger)
	require.NoError(t, err)
	assert.True(t, results.OK())
	assert.Equal(t, 1, results.Skipped())
	assert.Equal(t, []string{`sized: got empty parameter set for "size"`}, logger.skipped)
}

func TestUnsupportedTestFunctionFailsCollection(t *testing.T) {
	s := NewSession(nil, nil)
	s.AddTest("weird", func() {})

	_, err := s.Run(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `test "weird" has unsupported function type func()`)
}

func TestFixtureSetupHookCanReplaceFunction(t *testing.T) {
	s := NewSession(nil, nil)
	s.AddPlugin(replacingPlugin{})
	s.AddFixture(&FixtureDef{Name: "odd", Func: func() string { return "raw" }})

	var got string
	s.AddTest("t", func(t *T, args Args) { got = Value[string](args, "odd") }, "odd")

	results, err := s.Run(nil, nil)
	require.NoError(t, err)
	assert.True(t, results.OK())
	assert.Equal(t, "raw, adapted", got)
}

type replacingPlugin struct{}

func (replacingPlugin) Name() string { return "replacing" }

func (replacingPlugin) FixtureSetup(def *FixtureDef) {
	if raw, ok := def.Func.(func() string); ok {
		def.Func = FixtureFunc(func(Args) (interface{}, error) { return raw() + ", adapted", nil })
	}
}

func TestFilterExcludesTests(t *testing.T) {
	var filters RegexFilters
	require.NoError(t, filters.MustNotMatch.Set("^skip"))

	s := NewSession(nil, nil)
	ran := map[string]bool{}
	s.AddTest("skip me", func(t *T, args Args) { ran["skip me"] = true })
	s.AddTest("run me", func(t *T, args Args) { ran["run me"] = true })

	results, err := s.Run(filters.AsFilter, nil)
	require.NoError(t, err)
	assert.Len(t, results.Tests, 1)
	assert.Equal(t, map[string]bool{"run me": true}, ran)
}
