package looptest

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/launchdarkly/loop-test-harness/framework"
)

func TestClassify(t *testing.T) {
	called := false
	for _, tc := range []struct {
		name string
		fn   interface{}
		kind Kind
	}{
		{"nil", nil, KindSync},
		{"not a function", 3, KindSync},
		{"sync fixture", func(framework.Args) (interface{}, error) { called = true; return nil, nil }, KindSync},
		{"sync test", func(*framework.T, framework.Args) { called = true }, KindSync},
		{"async fixture", func(context.Context, framework.Args) (interface{}, error) { called = true; return nil, nil }, KindAsyncSingle},
		{"async test", func(context.Context, *framework.T, framework.Args) error { called = true; return nil }, KindAsyncSingle},
		{"named async fixture", AsyncFixtureFunc(nil), KindSync},
		{"async generator fixture", func(context.Context, framework.Args) iter.Seq2[interface{}, error] {
			called = true
			return nil
		}, KindAsyncMultistep},
		{"async generator test", func(context.Context, *framework.T, framework.Args) iter.Seq2[interface{}, error] {
			called = true
			return nil
		}, KindAsyncMultistep},
		{"context without args", func(context.Context) error { called = true; return nil }, KindSync},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.kind, Classify(tc.fn))
		})
	}
	assert.False(t, called)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "sync", KindSync.String())
	assert.Equal(t, "async", KindAsyncSingle.String())
	assert.Equal(t, "async generator", KindAsyncMultistep.String())
}
