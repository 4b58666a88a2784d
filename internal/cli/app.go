package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/roach88/graphwriter/internal/config"
	"github.com/roach88/graphwriter/internal/graph"
	"github.com/roach88/graphwriter/internal/idempotency"
	"github.com/roach88/graphwriter/internal/metrics"
	"github.com/roach88/graphwriter/internal/model"
	"github.com/roach88/graphwriter/internal/queue"
	"github.com/roach88/graphwriter/internal/service"
	"github.com/roach88/graphwriter/internal/store"
)

// storeCloseTimeout bounds how long Close waits for the store. A batch
// stuck in the apply layer keeps its connection busy and would otherwise
// block shutdown.
const storeCloseTimeout = 15 * time.Second

var errCloseTimeout = errors.New("timed out")

// app is the wired object graph shared by serve and apply.
type app struct {
	closeTimeout time.Duration

	cfg       config.Config
	logger    *slog.Logger
	store     *store.Store
	snapshots *graph.SnapshotCache
	registry  *idempotency.Registry
	gatherer  *prometheus.Registry
	queue     *queue.Queue
	service   *service.Service
}

// newApp opens the graph store and wires the queue around it. The
// processor is not started.
func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.Open(cfg.Graph.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open graph store", err)
	}

	registry, err := idempotency.New(cfg.Idempotency)
	if err != nil {
		_ = st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create idempotency registry", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	notifier := graph.NewNotifier()
	snapshots := graph.NewSnapshotCache(st)
	applier := graph.NewApplier(st, notifier, graph.WithApplierLogger(logger))

	q := queue.New(applier, cfg.Processor,
		queue.WithLogger(logger),
		queue.WithSnapshotRefresher(snapshots),
		queue.WithChangeNotifier(notifier),
		queue.WithTerminalRecorder(registry),
		queue.WithObserver(m),
	)
	svc := service.New(q, registry,
		service.WithLogger(logger),
		service.WithReservationObserver(m),
	)

	return &app{
		closeTimeout: storeCloseTimeout,

		cfg:       cfg,
		logger:    logger,
		store:     st,
		snapshots: snapshots,
		registry:  registry,
		gatherer:  reg,
		queue:     q,
		service:   svc,
	}, nil
}

func (a *app) hooks() queue.ProcessorHooks {
	return queue.ProcessorHooks{
		ModelRef: a.modelRef(),
		OnUpdateCount: func(queued, completed int) {
			a.logger.Debug("cycle finished", "queued", queued, "completed", completed)
		},
	}
}

func (a *app) modelRef() model.ModelRef {
	return model.ModelRef(a.cfg.Graph.ModelRef)
}

// Close stops the processor before closing the store it writes to. The
// queue does not wait for an in-flight batch, so the store close is given
// closeTimeout before Close gives up and leaves it to process exit.
func (a *app) Close() error {
	a.queue.Close()
	if err := closeWithin(a.closeTimeout, a.store.Close); err != nil {
		return fmt.Errorf("close graph store: %w", err)
	}
	return nil
}

// closeWithin runs closeFn and waits at most d for it to return.
func closeWithin(d time.Duration, closeFn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- closeFn()
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w after %s", errCloseTimeout, d)
	}
}

// validateConfig maps a config.ValidationError to ExitFailure so both the
// problems and the exit code reach the user.
func validateConfig(cfg config.Config) error {
	err := cfg.Validate()
	if err == nil {
		return nil
	}
	var verr *config.ValidationError
	if errors.As(err, &verr) {
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}
	return WrapExitError(ExitCommandError, "failed to validate configuration", err)
}
