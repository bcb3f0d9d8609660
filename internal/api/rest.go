package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Telluride/internal/api/query"
	"github.com/hbomb79/Telluride/internal/api/response"
	"github.com/hbomb79/Telluride/internal/options"
	"github.com/hbomb79/Telluride/pkg/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

const (
	LoopbackHost      = "127.0.0.1"
	readHeaderTimeout = 10 * time.Second

	defaultShutdownTimeout = 15 * time.Second
	shutdownGrace          = 5 * time.Second
)

type (
	RestConfig struct {
		Port            int           `yaml:"port" env:"TELLURIDE_PORT" env-default:"47999" validate:"min=0,max=65535"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"TELLURIDE_SHUTDOWN_TIMEOUT" validate:"min=0"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin-wrapper around the Echo HTTP router. It's sole responsibility
	// is to bind the loopback listener, gate every request to local peers, and route accepted
	// requests to the query controller. It also owns the cooperative shutdown signal raised
	// by the controller when a client asks the server to stop.
	RestGateway struct {
		config          *RestConfig
		build           string
		ec              *echo.Echo
		queryController controller

		listenerMtx  sync.Mutex
		listener     net.Listener
		shutdownOnce sync.Once
		shutdown     chan struct{}
	}
)

// ShutdownTimeoutFor returns a shutdown timeout which outlasts a metadata
// query started just before the shutdown was requested.
func ShutdownTimeoutFor(metadataTimeout time.Duration) time.Duration {
	if metadataTimeout <= 0 {
		return defaultShutdownTimeout
	}

	return metadataTimeout + shutdownGrace
}

// NewRestGateway constructs the Echo router and populates it with the
// routes defined by the query controller, which dispatches metadata
// queries to the extractor via the executor provided.
func NewRestGateway(config *RestConfig, build string, extractor query.Extractor, executor query.Executor, defaults options.Defaults) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true
	ec.HTTPErrorHandler = response.GetHTTPErrorHandler(build)

	gateway := &RestGateway{
		config:   config,
		build:    build,
		ec:       ec,
		shutdown: make(chan struct{}),
	}
	gateway.queryController = query.New(build, extractor, executor, defaults, gateway.RequestShutdown)

	// The gate must be the first middleware to run
	ec.Pre(localOnly())
	ec.Pre(middleware.RemoveTrailingSlash())

	ec.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	ec.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				log.Emit(logger.WARNING, "[%s] %s %s -> %d in %s: %v\n", v.RequestID, v.Method, v.URI, v.Status, v.Latency, v.Error)
				return nil
			}

			log.Emit(logger.DEBUG, "[%s] %s %s -> %d in %s\n", v.RequestID, v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))
	ec.Use(middleware.Recover())

	gateway.queryController.SetRoutes(ec.Group(""))

	return gateway
}

// Listen binds the loopback listener, if not already bound. Run will
// call this automatically, however calling it ahead of time allows the
// caller to learn the bound address (see Addr) before serving starts.
func (gateway *RestGateway) Listen() error {
	gateway.listenerMtx.Lock()
	defer gateway.listenerMtx.Unlock()

	if gateway.listener != nil {
		return nil
	}

	addr := net.JoinHostPort(LoopbackHost, strconv.Itoa(gateway.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	gateway.listener = listener
	return nil
}

// Addr returns the address of the bound listener, or an empty string if
// the gateway is not yet listening.
func (gateway *RestGateway) Addr() string {
	gateway.listenerMtx.Lock()
	defer gateway.listenerMtx.Unlock()

	if gateway.listener == nil {
		return ""
	}

	return gateway.listener.Addr().String()
}

// RequestShutdown marks the gateway for shutdown. It is safe to call
// more than once, and from any goroutine.
func (gateway *RestGateway) RequestShutdown() {
	gateway.shutdownOnce.Do(func() { close(gateway.shutdown) })
}

// ShutdownRequested returns a channel which is closed once a
// shutdown has been requested by a client.
func (gateway *RestGateway) ShutdownRequested() <-chan struct{} {
	return gateway.shutdown
}

// Handler exposes the gateway's router, primarily for tests.
func (gateway *RestGateway) Handler() http.Handler {
	return gateway.ec
}

// Run serves requests until the context provided is cancelled, or a
// client requests a shutdown. In both cases the listener stops accepting
// new connections and in-flight requests are given ShutdownTimeout to complete.
// Connections still active after that are closed, which is not an error.
func (gateway *RestGateway) Run(ctx context.Context) error {
	if err := gateway.Listen(); err != nil {
		return err
	}

	server := &http.Server{Handler: gateway.ec, ReadHeaderTimeout: readHeaderTimeout}
	serveErr := make(chan error, 1)
	go func(listener net.Listener) {
		defer close(serveErr)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}(gateway.listener)

	log.Emit(logger.SUCCESS, "Listening on http://%s\n", gateway.Addr())
	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		log.Emit(logger.STOP, "Context cancelled, stopping HTTP server\n")
	case <-gateway.shutdown:
		log.Emit(logger.STOP, "Shutdown requested by client, stopping HTTP server\n")
	}

	timeout := gateway.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("In-flight requests did not complete within %s, closing their connections: %v\n", timeout, err)
		server.Close()
	}

	return <-serveErr
}
