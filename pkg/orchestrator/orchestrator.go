// Package orchestrator reconciles a list of table pairs with bounded
// concurrency, a per-table deadline, and a choice of fail-fast or
// continue-on-error failure policy, per spec.md §4.7.
//
// The worker pool is built on golang.org/x/sync/errgroup, already a
// teacher dependency (used for the bounded concurrency knob
// repl.ClientConfig.Concurrency — block-spirit/pkg/repl/client.go),
// generalized here from a binlog-subscription worker count into a
// table-reconciliation worker count.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dbsync/reconcile/pkg/metrics"
	"github.com/dbsync/reconcile/pkg/reconciler"
	"github.com/dbsync/reconcile/pkg/tablespec"
)

// DefaultWorkers and DefaultPerTableTimeout mirror spec.md §4.7 and §6
// defaults.
const (
	DefaultWorkers         = 4
	DefaultPerTableTimeout = 3600 * time.Second
)

// FailurePolicy selects how the orchestrator reacts to the first failed
// table.
type FailurePolicy int

const (
	// ContinueOnError records the failure and proceeds to the next table.
	ContinueOnError FailurePolicy = iota
	// FailFast cancels outstanding tasks and returns a combined error on
	// the first failure.
	FailFast
)

// TableStatus classifies the outcome of reconciling one table.
type TableStatus string

const (
	StatusSuccess TableStatus = "success"
	StatusFailed  TableStatus = "failed"
	StatusTimeout TableStatus = "timeout"
)

// TableError records a per-table failure.
type TableError struct {
	Table string
	Err   error
}

// Result is the aggregate outcome of one orchestrator run, per
// spec.md §4.7. Ordering of Results is not guaranteed.
type Result struct {
	Results        []*reconciler.TableResult
	Successful     int
	Failed         int
	Timeout        int
	Errors         []TableError
	DurationSeconds float64
}

// Options configures one orchestrator run.
type Options struct {
	Workers         int
	PerTableTimeout time.Duration
	Policy          FailurePolicy
	ReconcileOpts   reconciler.Options
}

// ReconcilerFactory builds a Reconciler for one table pair, allowing the
// orchestrator to hand each worker its own independent pair of
// connections rather than sharing a cursor across workers (spec.md §4.7,
// §9 Open Question (c)).
type ReconcilerFactory func(ctx context.Context, spec tablespec.TableSpec) (*reconciler.Reconciler, error)

// Orchestrator reconciles many table pairs concurrently.
type Orchestrator struct {
	NewReconciler ReconcilerFactory
}

// New returns an Orchestrator that builds a fresh Reconciler per table
// via factory.
func New(factory ReconcilerFactory) *Orchestrator {
	return &Orchestrator{NewReconciler: factory}
}

// Run reconciles every spec in specs with bounded concurrency, per
// spec.md §4.7.
func (o *Orchestrator) Run(ctx context.Context, specs []tablespec.TableSpec, opts Options) (*Result, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	timeout := opts.PerTableTimeout
	if timeout <= 0 {
		timeout = DefaultPerTableTimeout
	}

	start := time.Now()
	result := &Result{}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, workers)

	for _, spec := range specs {
		spec := spec
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			status, tableResult, err := o.runOne(gCtx, spec, timeout, opts.ReconcileOpts)

			mu.Lock()
			defer mu.Unlock()
			switch status {
			case StatusSuccess:
				result.Successful++
				result.Results = append(result.Results, tableResult)
			case StatusTimeout:
				result.Timeout++
				result.Errors = append(result.Errors, TableError{Table: spec.Name(), Err: err})
			case StatusFailed:
				result.Failed++
				result.Errors = append(result.Errors, TableError{Table: spec.Name(), Err: err})
			}

			if status != StatusSuccess && opts.Policy == FailFast {
				return fmt.Errorf("orchestrator: %s: %w", spec.Name(), err)
			}
			return nil
		})
	}

	err := g.Wait()
	result.DurationSeconds = time.Since(start).Seconds()
	if err != nil && opts.Policy == FailFast {
		errs := make([]error, 0, len(result.Errors))
		for _, te := range result.Errors {
			errs = append(errs, fmt.Errorf("orchestrator: %s: %w", te.Table, te.Err))
		}
		return result, errors.Join(errs...)
	}
	return result, nil
}

// runOne reconciles a single table under a per-table deadline, returning
// the classified status alongside the result or error.
func (o *Orchestrator) runOne(ctx context.Context, spec tablespec.TableSpec, timeout time.Duration, reconcileOpts reconciler.Options) (TableStatus, *reconciler.TableResult, error) {
	tableCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rec, err := o.NewReconciler(tableCtx, spec)
	if err != nil {
		return StatusFailed, nil, err
	}

	tableResult, err := rec.Reconcile(tableCtx, spec, reconcileOpts)
	if err != nil {
		if tableCtx.Err() == context.DeadlineExceeded {
			metrics.Get().ParallelTableTimeoutsTotal.WithLabelValues(spec.Name()).Inc()
			return StatusTimeout, nil, fmt.Errorf("orchestrator: %s: timed out after %s: %w", spec.Name(), timeout, err)
		}
		return StatusFailed, nil, err
	}
	return StatusSuccess, tableResult, nil
}
