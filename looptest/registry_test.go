package looptest

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/loops"
	"github.com/launchdarkly/loop-test-harness/testservers"
)

// recordingServer wraps a real server and records when it is closed.
type recordingServer struct {
	testservers.Server
	name   string
	closed *[]string
	err    error
}

func (r *recordingServer) Close(ctx context.Context) error {
	*r.closed = append(*r.closed, r.name)
	if err := r.Server.Close(ctx); err != nil {
		return err
	}
	return r.err
}

type RegistrySuite struct {
	suite.Suite
	session *framework.Session
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.session = newSession(fastOptions("basic"))
}

func (s *RegistrySuite) run() framework.Results {
	results, err := s.session.Run(nil, nil)
	s.Require().NoError(err)
	return results
}

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendString("pong")
	})
	return app
}

func (s *RegistrySuite) TestClientForAppStartsAndClosesServer() {
	var client *testservers.TestClient
	s.session.AddTest("client", func(ctx context.Context, t *framework.T, args framework.Args) error {
		var err error
		client, err = framework.Value[TestClientFactory](args, TestClientFixture)(ctx, ForApp(newApp()))
		require.NoError(t, err)
		require.True(t, client.Server().Started())
		assert.NotZero(t, client.Server().Port())

		resp, err := client.Get(ctx, "/ping")
		require.NoError(t, err)
		body, err := testservers.ReadBody(resp, 200)
		require.NoError(t, err)
		assert.Equal(t, "pong", body)
		return nil
	}, TestClientFixture)

	results := s.run()
	s.True(results.OK(), failureMessages(results))
	s.Require().NotNil(client)
	s.Equal(testservers.ErrServerClosed, client.Server().Start(context.Background(), nil))
}

func (s *RegistrySuite) TestClientIsClosedWhenTestFails() {
	var client *testservers.TestClient
	s.session.AddTest("client", func(ctx context.Context, t *framework.T, args framework.Args) error {
		var err error
		client, err = framework.Value[TestClientFactory](args, TestClientFixture)(ctx, ForApp(newApp()))
		require.NoError(t, err)
		require.Fail(t, "deliberate")
		return nil
	}, TestClientFixture)

	results := s.run()
	s.Len(results.Failures, 1)
	s.Require().NotNil(client)
	_, err := http.Get(client.MakeURL("/ping"))
	s.Error(err)
}

func (s *RegistrySuite) TestServersCloseInReverseOrder() {
	var closed []string
	s.session.AddTest("servers", func(ctx context.Context, t *framework.T, args framework.Args) error {
		newClient := framework.Value[TestClientFactory](args, TestClientFixture)
		for _, name := range []string{"first", "second", "third"} {
			server := &recordingServer{
				Server: testservers.NewRawTestServer(httphelpers.HandlerWithStatus(204)),
				name:   name,
				closed: &closed,
			}
			_, err := newClient(ctx, ForServer(server))
			require.NoError(t, err)
		}
		return nil
	}, TestClientFixture)

	results := s.run()
	s.True(results.OK(), failureMessages(results))
	s.Equal([]string{"third", "second", "first"}, closed)
}

func (s *RegistrySuite) TestCloseErrorsAreAggregated() {
	var closed []string
	s.session.AddTest("servers", func(ctx context.Context, t *framework.T, args framework.Args) error {
		newClient := framework.Value[TestClientFactory](args, TestClientFixture)
		for _, name := range []string{"a", "b"} {
			server := &recordingServer{
				Server: testservers.NewRawTestServer(httphelpers.HandlerWithStatus(204)),
				name:   name,
				closed: &closed,
				err:    errors.New("close failed for " + name),
			}
			_, err := newClient(ctx, ForServer(server))
			require.NoError(t, err)
		}
		return nil
	}, TestClientFixture)

	results := s.run()
	messages := failureMessages(results)
	s.Require().Len(messages, 1)
	s.Contains(messages[0], `teardown of fixture "test_client" failed`)
	s.Contains(messages[0], "close failed for a")
	s.Contains(messages[0], "close failed for b")
	s.Equal([]string{"b", "a"}, closed)
}

func (s *RegistrySuite) TestServerFuncReceivesLoop() {
	var given, testLoop *loops.Loop
	s.session.AddTest("func", func(ctx context.Context, t *framework.T, args framework.Args) error {
		testLoop = loops.FromContext(ctx)
		_, err := framework.Value[TestClientFactory](args, TestClientFixture)(ctx,
			ForServerFunc(func(loop *loops.Loop) (testservers.Server, error) {
				given = loop
				return testservers.NewRawTestServer(httphelpers.HandlerWithStatus(204)), nil
			}))
		return err
	}, TestClientFixture)

	results := s.run()
	s.True(results.OK(), failureMessages(results))
	s.NotNil(given)
	s.Same(testLoop, given)
}

func (s *RegistrySuite) TestAppFuncTargetIsServedAndClosed() {
	var given *loops.Loop
	var client *testservers.TestClient
	s.session.AddTest("app func", func(ctx context.Context, t *framework.T, args framework.Args) error {
		var err error
		client, err = framework.Value[TestClientFactory](args, TestClientFixture)(ctx,
			ForAppFunc(func(loop *loops.Loop) (*fiber.App, error) {
				given = loop
				return newApp(), nil
			}))
		require.NoError(t, err)
		_, isTestServer := client.Server().(*testservers.TestServer)
		assert.True(t, isTestServer)

		resp, err := client.Get(ctx, "/ping")
		require.NoError(t, err)
		body, err := testservers.ReadBody(resp, 200)
		require.NoError(t, err)
		assert.Equal(t, "pong", body)
		return nil
	}, TestClientFixture)

	results := s.run()
	s.True(results.OK(), failureMessages(results))
	s.NotNil(given)
	s.Require().NotNil(client)
	_, err := http.Get(client.MakeURL("/ping"))
	s.Error(err)
}

func (s *RegistrySuite) TestAppFuncReturningNothing() {
	var err error
	s.session.AddTest("nil app", func(ctx context.Context, t *framework.T, args framework.Args) error {
		_, err = framework.Value[TestClientFactory](args, TestClientFixture)(ctx,
			ForAppFunc(func(*loops.Loop) (*fiber.App, error) { return nil, nil }))
		return nil
	}, TestClientFixture)

	results := s.run()
	s.True(results.OK(), failureMessages(results))
	s.ErrorIs(err, ErrUnknownClientTarget)
}

func (s *RegistrySuite) TestUnknownClientTarget() {
	var err error
	s.session.AddTest("bad target", func(ctx context.Context, t *framework.T, args framework.Args) error {
		_, err = framework.Value[TestClientFactory](args, TestClientFixture)(ctx, ClientTarget{})
		return nil
	}, TestClientFixture)

	results := s.run()
	s.True(results.OK(), failureMessages(results))
	s.ErrorIs(err, ErrUnknownClientTarget)
}

func (s *RegistrySuite) TestRawTestServerFromSyncTest() {
	var server *testservers.RawTestServer
	s.session.AddTest("raw", func(t *framework.T, args framework.Args) {
		handler, requests := httphelpers.RecordingHandler(httphelpers.HandlerWithStatus(202))
		var err error
		server, err = framework.Value[RawTestServerFactory](args, RawTestServerFixture)(context.Background(), handler)
		require.NoError(t, err)

		resp, err := http.Post(server.MakeURL("/submit"), "text/plain", nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 202, resp.StatusCode)
		assert.Equal(t, "/submit", (<-requests).Request.URL.Path)
	}, RawTestServerFixture)

	results := s.run()
	s.True(results.OK(), failureMessages(results))
	s.Require().NotNil(server)
	_, err := http.Get(server.MakeURL("/submit"))
	s.Error(err)
}

func (s *RegistrySuite) TestTestServerWithRequestedPort() {
	port, err := testservers.UnusedPort()
	s.Require().NoError(err)
	var got int
	s.session.AddTest("port", func(ctx context.Context, t *framework.T, args framework.Args) error {
		server, err := framework.Value[TestServerFactory](args, TestServerFixture)(ctx, newApp(), testservers.WithPort(port))
		require.NoError(t, err)
		got = server.Port()
		return nil
	}, TestServerFixture)

	results := s.run()
	s.True(results.OK(), failureMessages(results))
	s.Equal(port, got)
}

func (s *RegistrySuite) TestServerFactoryCalledFromLoopTask() {
	s.session.AddTest("task", func(ctx context.Context, t *framework.T, args framework.Args) error {
		loop := framework.Value[*loops.Loop](args, LoopFixture)
		newServer := framework.Value[RawTestServerFactory](args, RawTestServerFixture)
		f := loop.Go(func(ctx context.Context) (interface{}, error) {
			return newServer(ctx, httphelpers.HandlerWithStatus(http.StatusNoContent))
		})
		v, err := f.Await(ctx)
		require.NoError(t, err)
		server := v.(*testservers.RawTestServer)
		assert.True(t, server.Started())

		resp, err := http.Get(server.MakeURL("/"))
		require.NoError(t, err)
		_, err = testservers.ReadBody(resp, http.StatusNoContent)
		require.NoError(t, err)
		return nil
	}, LoopFixture, RawTestServerFixture)

	done := make(chan framework.Results, 1)
	go func() { done <- s.run() }()
	select {
	case results := <-done:
		s.True(results.OK(), failureMessages(results))
	case <-time.After(5 * time.Second):
		s.Fail("session did not finish")
	}
}
