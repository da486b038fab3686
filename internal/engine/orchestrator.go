package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the two lifecycle loops: market creation every few hours
// and resolution sweeps every few minutes. The loops are independent
// single-threaded sweeps; overlap safety comes from the status guards in the
// stores, not from locks.
type Orchestrator struct {
	creator         *Creator
	resolver        *Resolver
	createInterval  time.Duration
	resolveInterval time.Duration
	logger          *slog.Logger
}

// NewOrchestrator creates an Orchestrator for the given loops and intervals.
func NewOrchestrator(
	creator *Creator,
	resolver *Resolver,
	createInterval, resolveInterval time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		creator:         creator,
		resolver:        resolver,
		createInterval:  createInterval,
		resolveInterval: resolveInterval,
		logger:          logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts both loops in an errgroup and blocks until the context is
// cancelled. Individual cycle failures are absorbed inside the loops; only a
// loop that dies entirely surfaces here.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "lifecycle engine starting",
		slog.Duration("create_interval", o.createInterval),
		slog.Duration("resolve_interval", o.resolveInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.creator.RunLoop(ctx, o.createInterval)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("creation loop: %w", err)
	})

	g.Go(func() error {
		err := o.resolver.RunLoop(ctx, o.resolveInterval)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("resolution loop: %w", err)
	})

	err := g.Wait()
	if err != nil {
		o.logger.Error("lifecycle engine stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("lifecycle engine stopped cleanly")
	return nil
}
