// Package syncer decides which block ranges to fetch and drives fetched
// events through reconciliation into the cache. The head-tracking sync and
// the background backfiller live here.
package syncer

import (
	"context"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/fullofcoins/feedsync/pkg/chain"
	"github.com/fullofcoins/feedsync/pkg/config"
	"github.com/fullofcoins/feedsync/pkg/feed"
	"github.com/fullofcoins/feedsync/pkg/logger"
	"github.com/fullofcoins/feedsync/pkg/ranges"
	"github.com/fullofcoins/feedsync/pkg/reconcile"
)

// Store is the cache surface the scheduler needs. *cache.Store satisfies it.
// UpdateSource is one locked read-modify-write cycle: fn sees the freshly
// loaded posts and profiles, and its mutations commit atomically with the
// newly scanned ranges.
type Store interface {
	LoadSource(ctx context.Context, sourceID string) (map[uint64]*feed.Post, []ranges.Range, error)
	UpdateSource(
		ctx context.Context,
		sourceID string,
		fn func(posts map[uint64]*feed.Post, profiles map[common.Address]*feed.Profile) error,
		scanned ...ranges.Range,
	) error
}

// EventFetcher retrieves decoded events for a block interval, all or
// nothing. *chain.Fetcher satisfies it.
type EventFetcher interface {
	FetchRange(ctx context.Context, from, to uint64) ([]feed.RawEvent, error)
}

// Source is one chain under synchronization.
type Source struct {
	Name       string
	StartBlock uint64
	Client     chain.LogClient
	Fetcher    EventFetcher
}

type Syncer struct {
	store   Store
	sources []Source
	cfg     config.Sync
}

func New(store Store, sources []Source, cfg config.Sync) *Syncer {
	return &Syncer{
		store:   store,
		sources: sources,
		cfg:     cfg,
	}
}

// SyncAll runs one head-tracking tick for every source concurrently and
// reports whether any new posts arrived. Per-source failures degrade to "no
// progress this tick" for that source alone; the next tick resumes from the
// same frontier.
func (s *Syncer) SyncAll(ctx context.Context) bool {
	var newPosts atomic.Bool

	eg, ctx := errgroup.WithContext(ctx)
	for i := range s.sources {
		src := s.sources[i]
		eg.Go(func() error {
			hasNew, err := s.syncSource(ctx, src)
			if err != nil {
				logger.Errorf("sync tick failed for source %s: %v", src.Name, err)
				return nil
			}
			if hasNew {
				newPosts.Store(true)
			}
			return nil
		})
	}

	_ = eg.Wait()

	return newPosts.Load()
}

func (s *Syncer) syncSource(ctx context.Context, src Source) (bool, error) {
	head, err := src.Client.BlockNumber(ctx)
	if err != nil {
		return false, err
	}

	_, scanned, err := s.store.LoadSource(ctx, src.Name)
	if err != nil {
		return false, err
	}

	from, to, ok := s.nextRange(src, ranges.Merge(scanned), head)
	if !ok {
		return false, nil
	}

	logger.Debugf("source %s: scanning [%d, %d], head %d", src.Name, from, to, head)

	events, err := src.Fetcher.FetchRange(ctx, from, to)
	if err != nil {
		// No partial credit: the range stays unscanned and is retried
		// from the same frontier next tick.
		return false, err
	}

	if err := s.applyAndSave(ctx, src.Name, events, ranges.Range{From: from, To: to}); err != nil {
		return false, err
	}

	return reconcile.HasPosted(events), nil
}

// nextRange computes the interval a tick should scan. When the distance to
// head exceeds the large-gap threshold, only the recent window is fetched:
// freshness is deliberately favored over completeness, and the backfiller is
// responsible for retroactively covering the skipped region.
func (s *Syncer) nextRange(src Source, merged []ranges.Range, head uint64) (from, to uint64, ok bool) {
	nextFrom := src.StartBlock
	if len(merged) > 0 {
		nextFrom = ranges.HighestTo(merged, src.StartBlock) + 1
	}

	if head < nextFrom {
		return 0, 0, false
	}

	pending := head - nextFrom + 1
	if pending > s.cfg.LargeGapThreshold {
		from = src.StartBlock
		if head+1 > s.cfg.RecentWindow && head+1-s.cfg.RecentWindow > from {
			from = head + 1 - s.cfg.RecentWindow
		}
		return from, head, true
	}

	return nextFrom, head, true
}

// applyAndSave reconciles a fetched batch inside the store's locked
// read-modify-write cycle. The posts and profiles handed to the reconciler
// are loaded under that lock, after the fetch suspension: a concurrent
// backfill cycle may have advanced the cache in the meantime, and its
// writes must be reconciled against, not overwritten. Posts, profiles and
// the scanned range commit together; a failure anywhere leaves the range
// unscanned. An empty batch still records the range; scanning silence is
// progress too.
func (s *Syncer) applyAndSave(ctx context.Context, sourceID string, events []feed.RawEvent, scanned ranges.Range) error {
	err := s.store.UpdateSource(ctx, sourceID,
		func(posts map[uint64]*feed.Post, profiles map[common.Address]*feed.Profile) error {
			reconcile.Apply(sourceID, events, posts, profiles)
			return nil
		}, scanned)

	return errors.Wrap(err, "persisting sync results")
}
