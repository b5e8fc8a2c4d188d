package testservers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	"github.com/launchdarkly/loop-test-harness/framework"
	"github.com/launchdarkly/loop-test-harness/loops"
)

const (
	defaultHost            = "127.0.0.1"
	defaultShutdownTimeout = time.Second * 5
	defaultRequestBuffer   = 20
)

var (
	// ErrServerClosed is returned when Start is called on a server that has already been closed.
	ErrServerClosed = errors.New("test server has been closed")

	// ErrServerNotStarted is returned by AwaitRequest if the server was never started.
	ErrServerNotStarted = errors.New("test server has not been started")
)

// Server is the behavior shared by TestServer and RawTestServer.
type Server interface {
	// Start begins listening and serving on a goroutine tracked by the loop. Starting a server
	// that is already started has no effect.
	Start(ctx context.Context, loop *loops.Loop) error
	// Close stops the server and cancels the context of every request still in progress.
	// Closing more than once has no effect.
	Close(ctx context.Context) error
	// Started returns true if Start has succeeded.
	Started() bool
	// URL returns the base URL of the server, or "" if it has not been started.
	URL() string
	// Port returns the port the server is listening on, or 0 if it has not been started.
	Port() int
	// MakeURL returns an absolute URL for the given path on this server.
	MakeURL(path string) string
	// AwaitRequest waits for the server to receive a request.
	AwaitRequest(timeout time.Duration) (IncomingRequestInfo, error)
}

// ServerConfig holds the options for a test server.
type ServerConfig struct {
	// Host is the interface to listen on. The default is 127.0.0.1.
	Host string
	// Port is the port to listen on. If it is undefined, an unused port is chosen.
	Port ldvalue.OptionalInt
	// ShutdownTimeout limits how long Close waits for requests in progress to finish.
	ShutdownTimeout time.Duration
	// Logger receives debug output about requests.
	Logger framework.Logger
}

// ServerOption is a functional option for NewTestServer and NewRawTestServer.
type ServerOption func(*ServerConfig)

// WithHost sets the interface the server listens on.
func WithHost(host string) ServerOption {
	return func(c *ServerConfig) { c.Host = host }
}

// WithPort sets the port the server listens on.
func WithPort(port int) ServerOption {
	return func(c *ServerConfig) { c.Port = ldvalue.NewOptionalInt(port) }
}

// WithShutdownTimeout sets how long Close waits for requests in progress.
func WithShutdownTimeout(timeout time.Duration) ServerOption {
	return func(c *ServerConfig) { c.ShutdownTimeout = timeout }
}

// WithLogger sets the logger for debug output about requests.
func WithLogger(logger framework.Logger) ServerOption {
	return func(c *ServerConfig) { c.Logger = logger }
}

func makeServerConfig(opts []ServerOption) ServerConfig {
	config := ServerConfig{Host: defaultHost, ShutdownTimeout: defaultShutdownTimeout}
	for _, o := range opts {
		if o != nil {
			o(&config)
		}
	}
	if config.Logger == nil {
		config.Logger = framework.NullLogger()
	}
	return config
}

// IncomingRequestInfo describes a request received by a test server.
type IncomingRequestInfo struct {
	Headers http.Header
	Method  string
	Path    string
	Body    []byte
	Context context.Context
}

// TestServer serves a fiber application.
type TestServer struct {
	baseServer
	app *fiber.App
}

// NewTestServer creates a server for the application. It does not listen until Start is called.
func NewTestServer(app *fiber.App, opts ...ServerOption) *TestServer {
	s := &TestServer{app: app}
	s.init(adaptor.FiberApp(app), makeServerConfig(opts))
	return s
}

// App returns the application being served.
func (s *TestServer) App() *fiber.App {
	return s.app
}

// RawTestServer serves a plain HTTP handler.
type RawTestServer struct {
	baseServer
}

// NewRawTestServer creates a server for the handler. It does not listen until Start is called.
func NewRawTestServer(handler http.Handler, opts ...ServerOption) *RawTestServer {
	s := &RawTestServer{}
	s.init(handler, makeServerConfig(opts))
	return s
}

type baseServer struct {
	config   ServerConfig
	handler  http.Handler
	server   *http.Server
	url      string
	port     int
	started  bool
	closed   bool
	served   chan struct{}
	requests chan IncomingRequestInfo
	cancels  []*context.CancelFunc
	lock     sync.Mutex
}

func (s *baseServer) init(handler http.Handler, config ServerConfig) {
	s.handler = handler
	s.config = config
	s.requests = make(chan IncomingRequestInfo, defaultRequestBuffer)
}

func (s *baseServer) Start(ctx context.Context, loop *loops.Loop) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.started {
		return nil
	}

	port := 0
	if s.config.Port.IsDefined() {
		port = s.config.Port.IntValue()
	}
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.config.Host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("could not start test server: %w", err)
	}
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.url = fmt.Sprintf("http://%s", net.JoinHostPort(s.config.Host, strconv.Itoa(s.port)))
	s.server = &http.Server{
		Handler:     http.HandlerFunc(s.serveHTTP),
		BaseContext: func(net.Listener) context.Context { return loop.Context() },
	}
	s.served = make(chan struct{})

	server, served := s.server, s.served
	err = loop.Background(func(context.Context) {
		defer close(served)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.config.Logger.Printf("Test server at %s stopped with error: %s", s.url, err)
		}
	})
	if err != nil {
		_ = listener.Close()
		return err
	}
	s.started = true
	s.config.Logger.Printf("Test server listening at %s", s.url)
	return nil
}

func (s *baseServer) Close(ctx context.Context) error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	server, served := s.server, s.served
	cancellers := s.cancels
	s.cancels = nil
	close(s.requests)
	s.lock.Unlock()

	for _, cancel := range cancellers {
		(*cancel)()
	}
	if server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	if err != nil {
		err = server.Close()
	}
	<-served
	return err
}

func (s *baseServer) Started() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.started
}

func (s *baseServer) URL() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.url
}

func (s *baseServer) Port() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.port
}

func (s *baseServer) MakeURL(path string) string {
	return s.URL() + path
}

func (s *baseServer) AwaitRequest(timeout time.Duration) (IncomingRequestInfo, error) {
	if !s.Started() {
		return IncomingRequestInfo{}, ErrServerNotStarted
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case info, ok := <-s.requests:
		if !ok {
			return IncomingRequestInfo{}, ErrServerClosed
		}
		return info, nil
	case <-deadline.C:
		return IncomingRequestInfo{}, fmt.Errorf("timed out waiting for an incoming request to %s", s.URL())
	}
}

// serveHTTP records the request and gives it a context that Close cancels, then passes it on
// to the handler.
func (s *baseServer) serveHTTP(w http.ResponseWriter, req *http.Request) {
	var body []byte
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			s.config.Logger.Printf("Unexpected error trying to read request body: %s", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		body = data
	}

	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	ctx, canceller := context.WithCancel(req.Context())
	cancellerPtr := &canceller
	s.cancels = append(s.cancels, cancellerPtr)
	select { // non-blocking push
	case s.requests <- IncomingRequestInfo{
		Headers: req.Header,
		Method:  req.Method,
		Path:    req.URL.Path,
		Body:    body,
		Context: ctx,
	}:
	default:
		s.config.Logger.Printf("Incoming request channel was full for %s", req.URL)
	}
	s.lock.Unlock()

	s.config.Logger.Printf("Test server received %s %s", req.Method, req.URL.Path)
	transformedReq := req.WithContext(ctx)
	if body != nil {
		transformedReq.Body = io.NopCloser(bytes.NewBuffer(body))
	}
	s.handler.ServeHTTP(w, transformedReq)

	s.lock.Lock()
	for i, c := range s.cancels {
		if c == cancellerPtr { // can't compare functions with ==, but can compare pointers
			s.cancels = append(s.cancels[:i], s.cancels[i+1:]...)
			break
		}
	}
	s.lock.Unlock()
	canceller()
}

// UnusedPort returns a TCP port on 127.0.0.1 that nothing was listening on at the time of the
// call. Another process could still take it before it is used.
func UnusedPort() (int, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(defaultHost, "0"))
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}
