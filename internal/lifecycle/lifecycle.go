// Package lifecycle implements an ordered bring-up and tear-down chain
// for a fabricd node's components. It runs exactly the stages its caller
// passes, in the order given, and imposes no component order of its own
// (cmd/fabricd builds its stage list itself). This is a literal
// ordered chain rather than a general DAG solver: teardown hooks run
// in reverse registration order under a bounded context.WithTimeout,
// and this package adds the same bounded-deadline discipline to a
// forward bring-up phase.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/relaymesh/fabric/internal/telemetry/logger"
)

// Stage is one named, ordered component in the bring-up/tear-down
// chain. Start and Stop may be nil (e.g. a stage with nothing to tear
// down); a nil Start or Stop is treated as an immediate no-op success.
type Stage struct {
	Name  string
	Start func(context.Context) error
	Stop  func(context.Context) error
}

// Orchestrator runs a fixed ordered list of Stages up on Run and down
// in reverse on shutdown, each phase bounded by its own deadline.
type Orchestrator struct {
	stages []Stage

	startTimeout time.Duration
	stopTimeout  time.Duration

	logger logger.Logger

	mu      sync.Mutex
	started []Stage // stages successfully started, for reverse teardown
	done    chan struct{}
}

// Config configures an Orchestrator.
type Config struct {
	// StartTimeout bounds each individual stage's Start call.
	StartTimeout time.Duration
	// StopTimeout bounds the entire teardown phase.
	StopTimeout time.Duration
	Logger      logger.Logger
}

// New returns an Orchestrator over stages, run in the given order on
// bring-up and in reverse on tear-down.
func New(cfg Config, stages ...Stage) *Orchestrator {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger, _ = logger.New(logger.DefaultConfig())
	}
	return &Orchestrator{
		stages:       stages,
		startTimeout: cfg.StartTimeout,
		stopTimeout:  cfg.StopTimeout,
		logger:       cfg.Logger,
		done:         make(chan struct{}),
	}
}

// Start runs every stage's Start hook in order, each bounded by
// StartTimeout. On the first failure it tears down every stage already
// started (in reverse order) and returns the original error — a node
// never runs half brought-up.
func (o *Orchestrator) Start(ctx context.Context) error {
	for _, stage := range o.stages {
		if stage.Start != nil {
			stageCtx, cancel := context.WithTimeout(ctx, o.startTimeout)
			err := stage.Start(stageCtx)
			cancel()
			if err != nil {
				o.logger.Error("lifecycle: stage failed to start", "stage", stage.Name, "error", err)
				o.teardown(context.Background(), o.startedLocked())
				return fmt.Errorf("lifecycle: start %q: %w", stage.Name, err)
			}
			o.logger.Info("lifecycle: stage started", "stage", stage.Name)
		}
		o.mu.Lock()
		o.started = append(o.started, stage)
		o.mu.Unlock()
	}
	return nil
}

func (o *Orchestrator) startedLocked() []Stage {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := make([]Stage, len(o.started))
	copy(cp, o.started)
	return cp
}

// Stop tears down every started stage in reverse order, each under the
// shared StopTimeout deadline. It collects and returns every stage's
// error rather than stopping at the first failure, so one stuck
// component never strands the rest.
func (o *Orchestrator) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.stopTimeout)
	defer cancel()
	err := o.teardown(ctx, o.startedLocked())
	close(o.done)
	return err
}

func (o *Orchestrator) teardown(ctx context.Context, started []Stage) error {
	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		stage := started[i]
		if stage.Stop == nil {
			continue
		}
		if err := stage.Stop(ctx); err != nil {
			o.logger.Error("lifecycle: stage failed to stop", "stage", stage.Name, "error", err)
			errs = append(errs, fmt.Errorf("lifecycle: stop %q: %w", stage.Name, err))
			continue
		}
		o.logger.Info("lifecycle: stage stopped", "stage", stage.Name)
	}
	return errors.Join(errs...)
}

// Done returns a channel closed once Stop has completed.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// RunUntilSignal starts every stage, then blocks until SIGINT/SIGTERM
// (or ctx is canceled), then tears every started stage back down. It
// is the fabricd main-loop entry point: exactly one signal triggers
// exactly one teardown pass.
func (o *Orchestrator) RunUntilSignal(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		o.logger.Info("lifecycle: received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
		o.logger.Info("lifecycle: context canceled, shutting down")
	}

	return o.Stop(context.Background())
}
