package demotests

import (
	"context"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/loops"
	"github.com/launchdarkly/loop-test-harness/looptest"
)

func registerLoopTests(s *framework.Session) {
	s.AddTest("loops/async test runs on the loop fixture",
		func(ctx context.Context, t *framework.T, args framework.Args) error {
			loop := framework.Value[*loops.Loop](args, looptest.LoopFixture)
			require.NotNil(t, loop)
			assert.Same(t, loop, loops.FromContext(ctx))
			assert.Same(t, loop, loops.Current())
			assert.Equal(t, loops.OriginHarness, loop.Origin())
			t.Debug("running on %s loop %s", loop.Name(), loop.ID())
			return nil
		}, looptest.LoopFixture)

	s.AddTest("loops/async test without the loop fixture gets its own loop",
		func(ctx context.Context, t *framework.T, args framework.Args) error {
			loop := loops.FromContext(ctx)
			require.NotNil(t, loop)
			assert.Equal(t, loops.BasicLoopName, loop.Name())
			assert.False(t, loop.Closed())
			return nil
		})

	s.AddTest("loops/sync test can use the loop fixture",
		func(t *framework.T, args framework.Args) {
			loop := framework.Value[*loops.Loop](args, looptest.LoopFixture)
			var ranOn *loops.Loop
			require.NoError(t, loop.RunUntilComplete(context.Background(), func(ctx context.Context) error {
				ranOn = loops.FromContext(ctx)
				return nil
			}))
			assert.Same(t, loop, ranOn)
		}, looptest.LoopFixture)

	s.AddTest("loops/background work is awaited",
		func(ctx context.Context, t *framework.T, args framework.Args) error {
			loop := loops.FromContext(ctx)
			futures := make([]*loops.Future, 0, 3)
			for i := 1; i <= 3; i++ {
				n := i
				futures = append(futures, loop.Go(func(ctx context.Context) (interface{}, error) {
					select {
					case <-time.After(time.Duration(n) * time.Millisecond):
						return n * n, nil
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}))
			}
			total := 0
			for _, f := range futures {
				v, err := f.Await(ctx)
				require.NoError(t, err)
				total += v.(int)
			}
			assert.Equal(t, 14, total)
			return nil
		}, looptest.LoopFixture)

	s.AddTest("loops/nested work runs inline",
		func(ctx context.Context, t *framework.T, args framework.Args) error {
			loop := loops.FromContext(ctx)
			depth := 0
			return loop.RunUntilComplete(ctx, func(ctx context.Context) error {
				depth++
				return loop.RunUntilComplete(ctx, func(ctx context.Context) error {
					depth++
					assert.Equal(t, 2, depth)
					return nil
				})
			})
		}, looptest.LoopFixture)
}
