package orchestrator

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/dbsync/reconcile/pkg/reconciler"
	"github.com/dbsync/reconcile/pkg/tablespec"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
	os.Exit(m.Run())
}

func specs(names ...string) []tablespec.TableSpec {
	out := make([]tablespec.TableSpec, len(names))
	for i, n := range names {
		s, err := tablespec.New(n, n)
		if err != nil {
			panic(err)
		}
		out[i] = s
	}
	return out
}

// fakeReconciler lets tests control per-table outcome without a real
// database connection.
type fakeReconciler struct {
	behavior func(spec tablespec.TableSpec) (*reconciler.TableResult, error, time.Duration)
}

func (f *fakeReconciler) reconcile(ctx context.Context, spec tablespec.TableSpec, _ reconciler.Options) (*reconciler.TableResult, error) {
	result, err, delay := f.behavior(spec)
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return result, err
}

func factoryFor(f *fakeReconciler) ReconcilerFactory {
	return func(ctx context.Context, spec tablespec.TableSpec) (*reconciler.Reconciler, error) {
		rec := reconciler.New(nil, nil, nil, nil)
		rec.ReconcileFunc = func(ctx context.Context, s tablespec.TableSpec, o reconciler.Options) (*reconciler.TableResult, error) {
			return f.reconcile(ctx, s, o)
		}
		return rec, nil
	}
}

func TestRunAllSucceedContinueOnError(t *testing.T) {
	var calls int32
	f := &fakeReconciler{behavior: func(spec tablespec.TableSpec) (*reconciler.TableResult, error, time.Duration) {
		atomic.AddInt32(&calls, 1)
		return &reconciler.TableResult{Table: spec.Name(), Match: true}, nil, 0
	}}
	o := New(factoryFor(f))
	result, err := o.Run(context.Background(), specs("a", "b", "c"), Options{Workers: 2})
	assert.NoError(t, err)
	assert.Equal(t, 3, result.Successful)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRunContinueOnErrorRecordsFailureAndProceeds(t *testing.T) {
	f := &fakeReconciler{behavior: func(spec tablespec.TableSpec) (*reconciler.TableResult, error, time.Duration) {
		if spec.Name() == "b" {
			return nil, errors.New("boom"), 0
		}
		return &reconciler.TableResult{Table: spec.Name(), Match: true}, nil, 0
	}}
	o := New(factoryFor(f))
	result, err := o.Run(context.Background(), specs("a", "b", "c"), Options{Workers: 2, Policy: ContinueOnError})
	assert.NoError(t, err)
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, "b", result.Errors[0].Table)
}

func TestRunFailFastReturnsCombinedError(t *testing.T) {
	f := &fakeReconciler{behavior: func(spec tablespec.TableSpec) (*reconciler.TableResult, error, time.Duration) {
		if spec.Name() == "b" {
			return nil, errors.New("boom"), 0
		}
		return &reconciler.TableResult{Table: spec.Name(), Match: true}, nil, 0
	}}
	o := New(factoryFor(f))
	_, err := o.Run(context.Background(), specs("a", "b", "c"), Options{Workers: 1, Policy: FailFast})
	assert.Error(t, err)
}

func TestRunPerTableTimeoutClassifiedAsTimeout(t *testing.T) {
	f := &fakeReconciler{behavior: func(spec tablespec.TableSpec) (*reconciler.TableResult, error, time.Duration) {
		return nil, errors.New("slow"), 50 * time.Millisecond
	}}
	o := New(factoryFor(f))
	result, err := o.Run(context.Background(), specs("slow"), Options{Workers: 1, PerTableTimeout: 5 * time.Millisecond})
	assert.NoError(t, err)
	assert.Equal(t, 1, result.Timeout)
	assert.Equal(t, 0, result.Failed)
}
