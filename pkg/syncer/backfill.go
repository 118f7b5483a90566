package syncer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fullofcoins/feedsync/pkg/feed"
	"github.com/fullofcoins/feedsync/pkg/logger"
	"github.com/fullofcoins/feedsync/pkg/ranges"
	"github.com/fullofcoins/feedsync/pkg/reconcile"
)

// Backfiller repairs history coverage skipped by the freshness-first
// catch-up policy. Each cycle it finds the largest remaining gap across all
// sources and fetches one bounded chunk from the gap's tail, so coverage
// grows backward from already-known history. Only one backfill loop may be
// in flight at a time; it reads back its own writes between cycles.
type Backfiller struct {
	store    Store
	sources  []Source
	chunk    uint64
	interval time.Duration

	busy atomic.Bool
}

func NewBackfiller(store Store, sources []Source, chunk uint64, interval time.Duration) *Backfiller {
	return &Backfiller{
		store:    store,
		sources:  sources,
		chunk:    chunk,
		interval: interval,
	}
}

// Kick starts the backfill loop unless one is already running. It returns
// immediately; the loop runs until every gap is closed or ctx is done.
func (b *Backfiller) Kick(ctx context.Context) {
	if !b.busy.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer b.busy.Store(false)
		b.run(ctx)
	}()
}

func (b *Backfiller) run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !b.step(ctx) {
				logger.Debug("backfill idle: no gaps remain")
				return
			}
		}
	}
}

// step fills one chunk of the first gapped source and reports whether any
// source still has a gap. One chunk per cycle bounds the request burst.
func (b *Backfiller) step(ctx context.Context) bool {
	gapFound := false

	for _, src := range b.sources {
		_, scanned, err := b.store.LoadSource(ctx, src.Name)
		if err != nil {
			logger.Errorf("backfill: loading ranges for %s: %v", src.Name, err)
			return true
		}

		gap, ok := ranges.LargestGap(scanned, src.StartBlock)
		if !ok {
			continue
		}
		gapFound = true

		from := gap.From
		if gap.To+1 > b.chunk && gap.To+1-b.chunk > from {
			from = gap.To + 1 - b.chunk
		}

		logger.Debugf("backfill: source %s gap [%d, %d], fetching [%d, %d]",
			src.Name, gap.From, gap.To, from, gap.To)

		b.fillChunk(ctx, src, from, gap.To)

		// One chunk per cycle; remaining gaps wait for the next tick.
		break
	}

	return gapFound
}

func (b *Backfiller) fillChunk(ctx context.Context, src Source, from, to uint64) {
	events, err := src.Fetcher.FetchRange(ctx, from, to)
	if err != nil {
		// The chunk stays unscanned; a later cycle retries it.
		logger.Errorf("backfill: fetch [%d, %d] for %s failed: %v", from, to, src.Name, err)
		return
	}

	// The reconcile runs inside the store's locked cycle so a head-tracking
	// tick on the same source can neither be overwritten here nor overwrite
	// this chunk's results.
	err = b.store.UpdateSource(ctx, src.Name,
		func(posts map[uint64]*feed.Post, profiles map[common.Address]*feed.Profile) error {
			reconcile.Apply(src.Name, events, posts, profiles)
			return nil
		}, ranges.Range{From: from, To: to})
	if err != nil {
		logger.Errorf("backfill: persisting %s: %v", src.Name, err)
	}
}
