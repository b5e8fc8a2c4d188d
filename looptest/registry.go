package looptest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/loops"
	"github.com/launchdarkly/loop-test-harness/testservers"
)

// ErrUnknownClientTarget is returned by the test_client factory for a target that does not
// describe an application, a server or a function returning a server.
var ErrUnknownClientTarget = errors.New("unknown client target")

// TestServerFactory is the value of the test_server fixture. It starts a server for the
// application on the test's loop. The server is closed when the test ends.
//
// When calling it from an asynchronous test, pass the context the test received.
type TestServerFactory func(ctx context.Context, app *fiber.App, opts ...testservers.ServerOption) (*testservers.TestServer, error)

// RawTestServerFactory is the value of the raw_test_server fixture. It starts a server for the
// handler on the test's loop. The server is closed when the test ends.
type RawTestServerFactory func(ctx context.Context, handler http.Handler, opts ...testservers.ServerOption) (*testservers.RawTestServer, error)

// TestClientFactory is the value of the test_client fixture. It creates a client for the
// target and starts the target's server on the test's loop. The client, and with it the
// server, is closed when the test ends.
type TestClientFactory func(ctx context.Context, target ClientTarget, opts ...testservers.ClientOption) (*testservers.TestClient, error)

type clientTargetKind int

const (
	noTarget clientTargetKind = iota
	appTarget
	serverTarget
	serverFuncTarget
	appFuncTarget
)

// ClientTarget says what a test client should talk to. Create one with ForApp, ForServer,
// ForServerFunc or ForAppFunc; the zero value is not a valid target.
type ClientTarget struct {
	kind          clientTargetKind
	app           *fiber.App
	serverOptions []testservers.ServerOption
	server        testservers.Server
	serverFunc    func(*loops.Loop) (testservers.Server, error)
	appFunc       func(*loops.Loop) (*fiber.App, error)
}

// ForApp targets a new TestServer for the application, created with the given options.
func ForApp(app *fiber.App, serverOpts ...testservers.ServerOption) ClientTarget {
	return ClientTarget{kind: appTarget, app: app, serverOptions: serverOpts}
}

// ForServer targets an existing server, which will be started if it is not started yet.
func ForServer(server testservers.Server) ClientTarget {
	return ClientTarget{kind: serverTarget, server: server}
}

// ForServerFunc targets the server returned by fn, which is called with the test's loop.
func ForServerFunc(fn func(*loops.Loop) (testservers.Server, error)) ClientTarget {
	return ClientTarget{kind: serverFuncTarget, serverFunc: fn}
}

// ForAppFunc targets a new TestServer for the application returned by fn, which is called with
// the test's loop.
func ForAppFunc(fn func(*loops.Loop) (*fiber.App, error), serverOpts ...testservers.ServerOption) ClientTarget {
	return ClientTarget{kind: appFuncTarget, appFunc: fn, serverOptions: serverOpts}
}

func (ct ClientTarget) resolve(loop *loops.Loop) (testservers.Server, error) {
	switch ct.kind {
	case appTarget:
		if ct.app != nil {
			return testservers.NewTestServer(ct.app, ct.serverOptions...), nil
		}
	case serverTarget:
		if ct.server != nil {
			return ct.server, nil
		}
	case serverFuncTarget:
		if ct.serverFunc != nil {
			server, err := ct.serverFunc(loop)
			if err != nil {
				return nil, err
			}
			if server == nil {
				return nil, fmt.Errorf("%w: server function returned no server", ErrUnknownClientTarget)
			}
			return server, nil
		}
	case appFuncTarget:
		if ct.appFunc != nil {
			app, err := ct.appFunc(loop)
			if err != nil {
				return nil, err
			}
			if app == nil {
				return nil, fmt.Errorf("%w: application function returned no application", ErrUnknownClientTarget)
			}
			return testservers.NewTestServer(app, ct.serverOptions...), nil
		}
	}
	return nil, ErrUnknownClientTarget
}

type closer interface {
	Close(ctx context.Context) error
}

// registry holds the servers or clients one fixture has started for one test, in the order
// they were started.
type registry struct {
	loop    *loops.Loop
	logger  framework.Logger
	entries []closer
	lock    sync.Mutex
}

func newRegistry(args framework.Args) *registry {
	req := requestOf(args)
	r := &registry{
		loop:   framework.Value[*loops.Loop](args, LoopFixture),
		logger: req.DebugLogger(),
	}
	req.AddFinalizer(r.closeAll)
	return r
}

// start runs fn on the loop and records the entry, so that it is closed at teardown even if it
// failed to start.
func (r *registry) start(ctx context.Context, entry closer, fn func(ctx context.Context) error) error {
	if r.loop == nil {
		return fmt.Errorf("no loop available: %w", loops.ErrLoopClosed)
	}
	r.lock.Lock()
	r.entries = append(r.entries, entry)
	r.lock.Unlock()
	if ctx == nil {
		ctx = r.loop.Context()
	}
	return r.loop.RunUntilComplete(ctx, fn)
}

// closeAll closes every entry on the loop, most recent first. Entries are removed as they are
// closed, so calling it again does nothing.
func (r *registry) closeAll() error {
	if r.loop == nil {
		return nil
	}
	var result error
	err := r.loop.RunUntilComplete(r.loop.Context(), func(ctx context.Context) error {
		for {
			r.lock.Lock()
			if len(r.entries) == 0 {
				r.lock.Unlock()
				return nil
			}
			last := len(r.entries) - 1
			entry := r.entries[last]
			r.entries = r.entries[:last]
			r.lock.Unlock()

			if err := entry.Close(ctx); err != nil {
				r.logger.Printf("Error closing %T: %s", entry, err)
				result = multierror.Append(result, err)
			}
		}
	})
	if err != nil {
		result = multierror.Append(result, err)
	}
	return result
}

func testServerFixture(args framework.Args) (interface{}, error) {
	r := newRegistry(args)
	return TestServerFactory(func(ctx context.Context, app *fiber.App, opts ...testservers.ServerOption) (*testservers.TestServer, error) {
		server := testservers.NewTestServer(app, withDefaultLogger(r.logger, opts)...)
		if err := r.start(ctx, server, func(ctx context.Context) error { return server.Start(ctx, r.loop) }); err != nil {
			return nil, err
		}
		return server, nil
	}), nil
}

func rawTestServerFixture(args framework.Args) (interface{}, error) {
	r := newRegistry(args)
	return RawTestServerFactory(func(ctx context.Context, handler http.Handler, opts ...testservers.ServerOption) (*testservers.RawTestServer, error) {
		server := testservers.NewRawTestServer(handler, withDefaultLogger(r.logger, opts)...)
		if err := r.start(ctx, server, func(ctx context.Context) error { return server.Start(ctx, r.loop) }); err != nil {
			return nil, err
		}
		return server, nil
	}), nil
}

func testClientFixture(args framework.Args) (interface{}, error) {
	r := newRegistry(args)
	return TestClientFactory(func(ctx context.Context, target ClientTarget, opts ...testservers.ClientOption) (*testservers.TestClient, error) {
		if target.kind == appTarget || target.kind == appFuncTarget {
			target.serverOptions = withDefaultLogger(r.logger, target.serverOptions)
		}
		server, err := target.resolve(r.loop)
		if err != nil {
			return nil, err
		}
		client := testservers.NewTestClient(server, opts...)
		if err := r.start(ctx, client, func(ctx context.Context) error { return client.Start(ctx, r.loop) }); err != nil {
			return nil, err
		}
		return client, nil
	}), nil
}

// withDefaultLogger puts the test's debug logger ahead of the caller's options, so that a
// caller-supplied logger still wins.
func withDefaultLogger(logger framework.Logger, opts []testservers.ServerOption) []testservers.ServerOption {
	return append([]testservers.ServerOption{testservers.WithLogger(logger)}, opts...)
}
