// Package reconciler implements the single-table reconciliation pipeline:
// counts, optional checksum, optional row-level diff, optional repair
// script — one TableResult per table pair.
//
// The pipeline's state progression mirrors the teacher's migrationState
// enum and String() method (block-spirit/pkg/migration/runner.go),
// generalized from a 9-state DDL-migration state machine to this
// engine's 4-state compare pipeline (spec.md §4.6).
package reconciler

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/siddontang/loggers"
	"github.com/sirupsen/logrus"

	"github.com/dbsync/reconcile/pkg/comparator"
	"github.com/dbsync/reconcile/pkg/metrics"
	"github.com/dbsync/reconcile/pkg/rowdiffer"
	"github.com/dbsync/reconcile/pkg/tablespec"
)

// reconcileState tracks pipeline progress for logging and diagnostics.
type reconcileState int32

const (
	stateCounting reconcileState = iota
	stateChecksumming
	stateRowDiffing
	stateDone
)

func (s reconcileState) String() string {
	switch s {
	case stateCounting:
		return "counting"
	case stateChecksumming:
		return "checksumming"
	case stateRowDiffing:
		return "rowDiffing"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// ChunkedChecksumThreshold is the source row count above which Reconciler
// uses ChunkedChecksum instead of FullChecksum. Options.ForceChunked
// selects ChunkedChecksum regardless of the count; no option forces
// FullChecksum.
const ChunkedChecksumThreshold = 100_000

// Options configures one reconciliation run for a single table pair.
type Options struct {
	ValidateChecksums bool
	ForceChunked      bool
	RowLevel          bool
	PKColumns         []string
	RowLevelChunkSize int
	GenerateRepair    bool
	OutputDir         string
	FloatTolerance    float64
	CompareColumns    []string
}

// TableResult is the outcome of reconciling one table pair, per
// spec.md §3.
type TableResult struct {
	Table             string
	SourceCount       int64
	TargetCount       int64
	Difference        int64
	Match             bool
	ChecksumMatch     *bool
	SourceChecksum    string
	TargetChecksum    string
	RowDiscrepancies  []rowdiffer.RowDiscrepancy
	RepairScriptPath  string
	TimestampUnix     int64
}

// Reconciler drives the per-table pipeline using a Comparator for each
// side and an optional Differ for row-level work.
type Reconciler struct {
	SourceComparator *comparator.Comparator
	TargetComparator *comparator.Comparator
	Differ           *rowdiffer.Differ
	Logger           loggers.Advanced
	Now              func() time.Time

	// Closer, when set, is closed once the pipeline finishes (success or
	// error). This is where a caller that acquired per-table *sql.Conn
	// pair from a dbconn.Pool releases them back to the pool — the
	// orchestrator only ever calls Reconcile, so the Reconciler itself
	// must own returning its connections.
	Closer io.Closer

	// ReconcileFunc, when set, replaces the pipeline body entirely. This
	// is the seam pkg/orchestrator's tests use to exercise worker-pool
	// behavior (timeouts, failure policies) without a database.
	ReconcileFunc func(ctx context.Context, spec tablespec.TableSpec, opts Options) (*TableResult, error)
}

// New returns a Reconciler. logger may be nil, defaulting to logrus.New().
func New(sourceComparator, targetComparator *comparator.Comparator, differ *rowdiffer.Differ, logger loggers.Advanced) *Reconciler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reconciler{
		SourceComparator: sourceComparator,
		TargetComparator: targetComparator,
		Differ:           differ,
		Logger:           logger,
		Now:              time.Now,
	}
}

// Reconcile runs the pipeline for one table pair. It never returns an
// error for a data mismatch — mismatch is recorded in the TableResult.
// It returns an error only for infrastructure failure (connection lost
// after retries, invalid identifier, etc.), per spec.md §4.6.
func (r *Reconciler) Reconcile(ctx context.Context, spec tablespec.TableSpec, opts Options) (*TableResult, error) {
	if r.ReconcileFunc != nil {
		return r.ReconcileFunc(ctx, spec, opts)
	}
	if r.Closer != nil {
		defer r.Closer.Close()
	}

	started := time.Now()
	m := metrics.Get()
	defer func() {
		m.ReconciliationDurationSeconds.WithLabelValues(spec.Name()).Observe(time.Since(started).Seconds())
	}()

	result, err := r.reconcile(ctx, spec, opts)

	status := "match"
	switch {
	case err != nil:
		status = "error"
	case result != nil && !result.Match:
		status = "mismatch"
	}
	m.ReconciliationRunsTotal.WithLabelValues(spec.Name(), status).Inc()

	return result, err
}

// reconcile runs the pipeline body; split out of Reconcile so the
// latter can wrap it uniformly with the runs/duration metrics above
// regardless of which branch returns.
func (r *Reconciler) reconcile(ctx context.Context, spec tablespec.TableSpec, opts Options) (*TableResult, error) {
	state := stateCounting
	r.Logger.Infof("reconciler: %s entering state %s", spec.Name(), state)

	now := r.now()
	sourceCount, err := r.SourceComparator.RowCount(ctx, spec.SourceIdentifier)
	if err != nil {
		return nil, fmt.Errorf("reconciler: %s: %w", spec.Name(), err)
	}
	targetCount, err := r.TargetComparator.RowCount(ctx, spec.TargetIdentifier)
	if err != nil {
		return nil, fmt.Errorf("reconciler: %s: %w", spec.Name(), err)
	}

	countResult := comparator.CompareRowCounts(spec.Name(), sourceCount, targetCount, now.Unix())
	result := &TableResult{
		Table:         spec.Name(),
		SourceCount:   countResult.SourceCount,
		TargetCount:   countResult.TargetCount,
		Difference:    countResult.Difference,
		Match:         countResult.Match,
		TimestampUnix: now.Unix(),
	}

	if opts.ValidateChecksums {
		state = stateChecksumming
		r.Logger.Infof("reconciler: %s entering state %s", spec.Name(), state)

		sourceSum, targetSum, err := r.computeChecksums(ctx, spec, opts, sourceCount)
		if err != nil {
			return nil, fmt.Errorf("reconciler: %s: %w", spec.Name(), err)
		}
		checksumResult := comparator.CompareChecksums(spec.Name(), sourceSum, targetSum, now.Unix())
		match := checksumResult.Match
		result.ChecksumMatch = &match
		result.SourceChecksum = sourceSum
		result.TargetChecksum = targetSum
		result.Match = result.Match && match
	}

	needsRowLevel := opts.RowLevel && (!result.Match)
	if needsRowLevel {
		state = stateRowDiffing
		r.Logger.Infof("reconciler: %s entering state %s", spec.Name(), state)

		if r.Differ == nil {
			return nil, fmt.Errorf("reconciler: %s: row-level diff requested but no Differ configured", spec.Name())
		}

		pkColumns := opts.PKColumns
		if len(pkColumns) == 0 {
			pkColumns, err = r.SourceComparator.DiscoverPrimaryKey(ctx, spec.SourceIdentifier)
			if err != nil {
				return nil, fmt.Errorf("reconciler: %s: discovering primary key: %w", spec.Name(), err)
			}
		}
		if len(pkColumns) == 0 {
			return nil, fmt.Errorf("reconciler: %s: row-level diff requires primary-key columns and none were discovered", spec.Name())
		}

		if r.Differ.ChunkSize <= 0 && opts.RowLevelChunkSize > 0 {
			r.Differ.ChunkSize = opts.RowLevelChunkSize
		}
		if opts.FloatTolerance > 0 {
			r.Differ.FloatTolerance = opts.FloatTolerance
		}

		discrepancies, err := r.Differ.Diff(ctx, spec.Name(), spec.SourceIdentifier, spec.TargetIdentifier, pkColumns, opts.CompareColumns, now.Unix())
		if err != nil {
			return nil, fmt.Errorf("reconciler: %s: %w", spec.Name(), err)
		}
		result.RowDiscrepancies = discrepancies
		for _, disc := range discrepancies {
			metrics.Get().RowLevelDiscrepanciesTotal.WithLabelValues(spec.Name(), string(disc.Kind)).Inc()
		}

		if opts.GenerateRepair && len(discrepancies) > 0 && opts.OutputDir != "" {
			path, err := r.writeRepairScript(spec, pkColumns, discrepancies, opts.OutputDir, now)
			if err != nil {
				return nil, fmt.Errorf("reconciler: %s: writing repair script: %w", spec.Name(), err)
			}
			result.RepairScriptPath = path
		}
	}

	state = stateDone
	r.Logger.Infof("reconciler: %s entering state %s", spec.Name(), state)
	return result, nil
}

func (r *Reconciler) computeChecksums(ctx context.Context, spec tablespec.TableSpec, opts Options, sourceCount int64) (string, string, error) {
	useChunked := opts.ForceChunked || sourceCount > ChunkedChecksumThreshold
	if !useChunked {
		sourceSum, err := r.SourceComparator.FullChecksum(ctx, spec.SourceIdentifier, opts.CompareColumns, "")
		if err != nil {
			return "", "", err
		}
		targetSum, err := r.TargetComparator.FullChecksum(ctx, spec.TargetIdentifier, opts.CompareColumns, "")
		if err != nil {
			return "", "", err
		}
		return sourceSum, targetSum, nil
	}

	pkColumns, err := r.SourceComparator.DiscoverPrimaryKey(ctx, spec.SourceIdentifier)
	if err != nil {
		return "", "", err
	}
	sourceSum, _, err := r.SourceComparator.ChunkedChecksum(ctx, spec.SourceIdentifier, opts.CompareColumns, pkColumns)
	if err != nil {
		return "", "", err
	}
	targetSum, _, err := r.TargetComparator.ChunkedChecksum(ctx, spec.TargetIdentifier, opts.CompareColumns, pkColumns)
	if err != nil {
		return "", "", err
	}
	return sourceSum, targetSum, nil
}

func (r *Reconciler) writeRepairScript(spec tablespec.TableSpec, pkColumns []string, discrepancies []rowdiffer.RowDiscrepancy, outputDir string, generatedAt time.Time) (string, error) {
	script, err := rowdiffer.RenderRepairScript(r.Differ.TargetDialect, spec.TargetIdentifier, pkColumns, discrepancies, generatedAt)
	if err != nil {
		return "", err
	}
	path := filepath.Join(outputDir, fmt.Sprintf("repair_%s.sql", sanitizeScriptName(spec.Name())))
	if err := writeFileAtomic(path, []byte(script)); err != nil {
		return "", err
	}
	return path, nil
}

func (r *Reconciler) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}
