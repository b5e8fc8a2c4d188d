package demotests

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/loops"
	"github.com/launchdarkly/loop-test-harness/looptest"
	"github.com/launchdarkly/loop-test-harness/testservers"
)

func registerServerTests(s *framework.Session) {
	s.AddTest("servers/test client for an application",
		func(ctx context.Context, t *framework.T, args framework.Args) error {
			app := framework.Value[*fiber.App](args, appFixture)
			newClient := framework.Value[looptest.TestClientFactory](args, looptest.TestClientFixture)

			client, err := newClient(ctx, looptest.ForApp(app), testservers.WithHeader("User-Agent", "demotests"))
			require.NoError(t, err)

			resp, err := client.Get(ctx, "/health")
			require.NoError(t, err)
			body, err := testservers.ReadBody(resp, http.StatusOK)
			require.NoError(t, err)
			assert.JSONEq(t, `{"status":"healthy"}`, body)

			req, err := client.Request(ctx, http.MethodPut, "/items/color", strings.NewReader("green"))
			require.NoError(t, err)
			_, err = testservers.ReadBody(req, http.StatusNoContent)
			require.NoError(t, err)

			resp, err = client.Get(ctx, "/items/color")
			require.NoError(t, err)
			body, err = testservers.ReadBody(resp, http.StatusOK)
			require.NoError(t, err)
			var item struct {
				Key   string `json:"key"`
				Value string `json:"value"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &item))
			assert.Equal(t, "green", item.Value)

			resp, err = client.Get(ctx, "/items/size")
			require.NoError(t, err)
			_, err = testservers.ReadBody(resp, http.StatusNotFound)
			require.NoError(t, err)
			return nil
		}, looptest.TestClientFixture, appFixture)

	s.AddTest("servers/test server on a chosen port",
		func(ctx context.Context, t *framework.T, args framework.Args) error {
			port, err := framework.Value[looptest.UnusedPortFunc](args, looptest.UnusedPortFixture)()
			require.NoError(t, err)
			newServer := framework.Value[looptest.TestServerFactory](args, looptest.TestServerFixture)

			server, err := newServer(ctx, framework.Value[*fiber.App](args, appFixture), testservers.WithPort(port))
			require.NoError(t, err)
			assert.True(t, server.Started())
			assert.Equal(t, port, server.Port())

			resp, err := http.Get(server.MakeURL("/items"))
			require.NoError(t, err)
			body, err := testservers.ReadBody(resp, http.StatusOK)
			require.NoError(t, err)
			assert.JSONEq(t, `{"keys":[]}`, body)

			info, err := server.AwaitRequest(time.Second)
			require.NoError(t, err)
			assert.Equal(t, "/items", info.Path)
			return nil
		}, looptest.UnusedPortFixture, looptest.TestServerFixture, appFixture)

	s.AddTest("servers/raw server streams events",
		func(ctx context.Context, t *framework.T, args framework.Args) error {
			stream := newEventStream(t.DebugLogger())
			defer stream.Close()
			newServer := framework.Value[looptest.RawTestServerFactory](args, looptest.RawTestServerFixture)
			newClient := framework.Value[looptest.TestClientFactory](args, looptest.TestClientFixture)

			server, err := newServer(ctx, stream)
			require.NoError(t, err)
			client, err := newClient(ctx, looptest.ForServer(server))
			require.NoError(t, err)
			assert.Same(t, server, client.Server())

			stream.Send("data: hello\n\n")
			resp, err := client.Get(ctx, "/")
			require.NoError(t, err)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "text/event-stream; charset=utf-8", resp.Header.Get("Content-Type"))

			reader := bufio.NewReader(resp.Body)
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			assert.Equal(t, "data: hello\n", line)
			return nil
		}, looptest.RawTestServerFixture, looptest.TestClientFixture)

	s.AddTest("servers/split events and broken connections",
		func(ctx context.Context, t *framework.T, args framework.Args) error {
			stream := newEventStream(t.DebugLogger())
			defer stream.Close()
			newServer := framework.Value[looptest.RawTestServerFactory](args, looptest.RawTestServerFixture)
			server, err := newServer(ctx, stream)
			require.NoError(t, err)

			resp, err := http.Get(server.MakeURL("/stream"))
			require.NoError(t, err)
			defer resp.Body.Close()
			reader := bufio.NewReader(resp.Body)

			stream.SendSplit("event: greeting\ndata: split into pieces\n\n", 5, 5*time.Millisecond)
			for _, expected := range []string{"event: greeting\n", "data: split into pieces\n", "\n"} {
				line, err := reader.ReadString('\n')
				require.NoError(t, err)
				assert.Equal(t, expected, line)
			}

			stream.Interrupt()
			_, err = reader.ReadString('\n')
			assert.Equal(t, io.EOF, err)
			return nil
		}, looptest.RawTestServerFixture)

	s.AddTest("servers/factory called from a loop task",
		func(ctx context.Context, t *framework.T, args framework.Args) error {
			loop := framework.Value[*loops.Loop](args, looptest.LoopFixture)
			newServer := framework.Value[looptest.TestServerFactory](args, looptest.TestServerFixture)
			app := framework.Value[*fiber.App](args, appFixture)

			f := loop.Go(func(ctx context.Context) (interface{}, error) {
				return newServer(ctx, app)
			})
			v, err := f.Await(ctx)
			require.NoError(t, err)

			resp, err := http.Get(v.(*testservers.TestServer).MakeURL("/health"))
			require.NoError(t, err)
			_, err = testservers.ReadBody(resp, http.StatusOK)
			require.NoError(t, err)
			return nil
		}, looptest.LoopFixture, looptest.TestServerFixture, appFixture)

	s.AddTest("servers/client for a server built on the loop",
		func(ctx context.Context, t *framework.T, args framework.Args) error {
			loop := framework.Value[*loops.Loop](args, looptest.LoopFixture)
			newClient := framework.Value[looptest.TestClientFactory](args, looptest.TestClientFixture)

			handler, requests := httphelpers.RecordingHandler(httphelpers.HandlerWithStatus(http.StatusAccepted))
			var builtOn *loops.Loop
			client, err := newClient(ctx, looptest.ForServerFunc(func(l *loops.Loop) (testservers.Server, error) {
				builtOn = l
				return testservers.NewRawTestServer(handler), nil
			}))
			require.NoError(t, err)
			assert.Same(t, loop, builtOn)

			resp, err := client.Post(ctx, "/events", "application/json", strings.NewReader(`{"kind":"ping"}`))
			require.NoError(t, err)
			_, err = testservers.ReadBody(resp, http.StatusAccepted)
			require.NoError(t, err)

			select {
			case r := <-requests:
				assert.Equal(t, http.MethodPost, r.Request.Method)
				assert.Equal(t, `{"kind":"ping"}`, string(r.Body))
			case <-time.After(time.Second):
				require.Fail(t, "timed out waiting for recorded request")
			}
			return nil
		}, looptest.LoopFixture, looptest.TestClientFixture)

	s.AddTest("servers/sync test uses the server factory",
		func(t *framework.T, args framework.Args) {
			newServer := framework.Value[looptest.RawTestServerFactory](args, looptest.RawTestServerFixture)
			handler := httphelpers.HandlerForMethod(http.MethodGet,
				httphelpers.HandlerWithResponse(http.StatusOK, nil, []byte("pong")), nil)

			server, err := newServer(context.Background(), handler)
			require.NoError(t, err)

			resp, err := http.Get(server.MakeURL("/ping"))
			require.NoError(t, err)
			body, err := testservers.ReadBody(resp, http.StatusOK)
			require.NoError(t, err)
			assert.Equal(t, "pong", body)
		}, looptest.RawTestServerFixture)
}
