// Package ingest drives the record forward: reconcile local state against the
// remote chain, then poll, fetch and append missing blocks in strictly
// increasing order until cancelled.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alloylabs/blockrecorder/internal/chainclient"
	"github.com/alloylabs/blockrecorder/internal/metrics"
	"github.com/alloylabs/blockrecorder/internal/recordstore"
)

var (
	ErrInvalidLogger       = errors.New("invalid logger: must not be nil")
	ErrInvalidChainClient  = errors.New("invalid chain client: must not be nil")
	ErrInvalidStore        = errors.New("invalid record store: must not be nil")
	ErrInvalidPollInterval = errors.New("invalid poll interval: must be greater than 0")
)

// Runner is the single sequential worker: at most one fetch-and-append in
// flight, no concurrent RPC calls, no concurrent store writers.
type Runner struct {
	sugar        *zap.SugaredLogger
	client       chainclient.ChainClient
	store        recordstore.Store
	genesis      uint64
	pollInterval time.Duration
	metrics      *metrics.Metrics // nil if metrics disabled
}

func New(
	sugar *zap.SugaredLogger,
	client chainclient.ChainClient,
	store recordstore.Store,
	genesis uint64,
	pollInterval time.Duration,
	m *metrics.Metrics,
) (*Runner, error) {
	if sugar == nil {
		return nil, ErrInvalidLogger
	}
	if client == nil {
		return nil, ErrInvalidChainClient
	}
	if store == nil {
		return nil, ErrInvalidStore
	}
	if pollInterval <= 0 {
		return nil, ErrInvalidPollInterval
	}

	return &Runner{
		sugar:        sugar,
		client:       client,
		store:        store,
		genesis:      genesis,
		pollInterval: pollInterval,
		metrics:      m,
	}, nil
}

// Run polls the remote chain and appends missing blocks until ctx is
// cancelled. Cancellation is observed at iteration boundaries only: an
// in-flight append always completes, and Run then returns nil. A store
// failure is fatal and returned; RPC failures are logged and retried on the
// next poll cycle.
func (r *Runner) Run(ctx context.Context) error {
	next, err := r.reconcile()
	if err != nil {
		return err
	}
	r.sugar.Infow("reconciled against record store", "next_height", next)

	for {
		if ctx.Err() != nil {
			r.sugar.Infow("shutdown requested, stopping poll loop", "next_height", next)
			return nil
		}

		tip, err := r.client.Height(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.sugar.Infow("shutdown requested during height query", "next_height", next)
				return nil
			}
			r.sugar.Warnw("failed to query remote height", "error", err)
		} else {
			if r.metrics != nil {
				r.metrics.SetRemoteHeight(tip)
			}
			if tip >= next {
				next, err = r.fetchRange(ctx, next, tip)
				if err != nil {
					if r.metrics != nil {
						r.metrics.IncError(metrics.ErrTypePersistence)
					}
					return err
				}
			}
		}

		if !r.sleep(ctx) {
			r.sugar.Infow("shutdown requested while sleeping", "next_height", next)
			return nil
		}
	}
}

// reconcile computes the first height to fetch: one past the last recorded
// height, or the configured genesis on an empty store.
func (r *Runner) reconcile() (uint64, error) {
	last, ok, err := r.store.LastHeight()
	if err != nil {
		return 0, fmt.Errorf("read last recorded height: %w", err)
	}
	if !ok {
		return r.genesis, nil
	}
	if r.metrics != nil {
		r.metrics.SetLastRecordedHeight(last)
	}
	return last + 1, nil
}

// fetchRange fetches and appends heights next..tip inclusive, one at a time,
// and returns the height the loop should continue from. RPC errors end the
// batch and defer to the next poll; a store error is returned as fatal.
func (r *Runner) fetchRange(ctx context.Context, next, tip uint64) (uint64, error) {
	for h := next; h <= tip; h++ {
		if ctx.Err() != nil {
			r.sugar.Infow("shutdown requested, stopping batch", "next_height", h)
			return h, nil
		}

		rec, err := r.client.BlockByHeight(ctx, h)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				r.sugar.Infow("shutdown requested during fetch", "next_height", h)
			case errors.Is(err, chainclient.ErrBlockNotFound):
				// Raced past the tip we read, or the tip moved backward
				// relative to a stale read. The next poll sorts it out.
				r.sugar.Infow("block not available yet, returning to polling", "height", h)
			default:
				r.sugar.Warnw("failed to fetch block, abandoning batch", "height", h, "error", err)
			}
			return h, nil
		}
		if rec.Height != h {
			r.sugar.Warnw("node returned mismatched height, abandoning batch",
				"requested", h, "returned", rec.Height)
			return h, nil
		}

		start := time.Now()
		if err := r.store.Append(rec); err != nil {
			return h, fmt.Errorf("append block %d: %w", h, err)
		}
		if r.metrics != nil {
			r.metrics.ObserveAppendDuration(time.Since(start).Seconds())
			r.metrics.BlockAppended(rec.Height)
		}
		r.sugar.Infow("block recorded", "height", rec.Height, "hash", rec.Hash)
	}
	return tip + 1, nil
}

// sleep waits one poll interval. Returns false if ctx was cancelled first.
func (r *Runner) sleep(ctx context.Context) bool {
	t := time.NewTimer(r.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
