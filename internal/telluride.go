package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hbomb79/Telluride/internal/api"
	"github.com/hbomb79/Telluride/internal/client"
	"github.com/hbomb79/Telluride/internal/extract"
	"github.com/hbomb79/Telluride/pkg/logger"
	"github.com/hbomb79/Telluride/pkg/worker"
)

var log = logger.Get("Core")

const readinessTimeout = 10 * time.Second

type (
	RunnableService interface {
		Run(context.Context) error
	}

	RestGateway interface {
		RunnableService
		Listen() error
		Addr() string
	}

	// ServerState is the process-wide, read-only state of a running server.
	ServerState struct {
		Build string
		Port  int
	}
)

// tellurideImpl represents the top-level object for the server, and is
// responsible for bringing up the worker pool and the REST gateway, and
// tearing them down again once a shutdown is requested.
type tellurideImpl struct {
	config      TellurideConfig
	state       ServerState
	pool        *worker.WorkerPool
	restGateway RestGateway

	crashMtx sync.Mutex
	crashErr error
}

func NewServer(config TellurideConfig, build string, extractor extract.Extractor) *tellurideImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Telluride server using config: %#v\n", config)

	pool := worker.NewSizedWorkerPool("extract", config.Server.Workers)
	return &tellurideImpl{
		config:      config,
		state:       ServerState{Build: build, Port: config.Server.Port},
		pool:        pool,
		restGateway: api.NewRestGateway(&config.Server.RestConfig, build, extractor, pool, config.Defaults()),
	}
}

// Run will start the server by bringing up the extraction worker pool and
// the loopback REST gateway.
//
// This function will not return until the server is stopped, either because the
// provided context was cancelled, or because a client requested a shutdown. Errors
// from which the server cannot recover will also cause it to stop, and will be returned.
func (t *tellurideImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		t.crashMtx.Lock()
		if t.crashErr == nil {
			t.crashErr = fmt.Errorf("%s crashed: %w", label, err)
		}
		t.crashMtx.Unlock()
		cancel()
	}

	log.Emit(logger.NEW, "Starting %d extraction workers...\n", t.pool.Size())
	if err := t.pool.Start(); err != nil {
		return err
	}
	defer t.pool.Close()

	if err := t.restGateway.Listen(); err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	t.spawnAsyncService(ctx, wg, t.restGateway, "rest-gateway", crashHandler)
	go t.awaitReadiness(ctx)

	wg.Wait()
	log.Emit(logger.STOP, "Telluride server stopped\n")

	t.crashMtx.Lock()
	defer t.crashMtx.Unlock()
	return t.crashErr
}

// Addr returns the address the server is listening on, once bound.
func (t *tellurideImpl) Addr() string {
	return t.restGateway.Addr()
}

func (t *tellurideImpl) State() ServerState {
	return t.state
}

// awaitReadiness probes the gateway the same way an external client
// would, so that the 'ready' log line is only emitted once requests
// are actually being answered.
func (t *tellurideImpl) awaitReadiness(ctx context.Context) {
	if err := client.New(t.Addr()).WaitReady(ctx, readinessTimeout); err != nil {
		if ctx.Err() == nil {
			log.Warnf("Server did not become ready: %v\n", err)
		}
		return
	}

	log.Emit(logger.SUCCESS, "Telluride (build %s) ready on http://%s\n", t.state.Build, t.Addr())
}

// spawnAsyncService will run the provided service as it's own
// go-routine, ensuring that the service waitgroup is updated correctly
func (t *tellurideImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
