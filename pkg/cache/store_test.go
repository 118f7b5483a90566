package cache

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/fullofcoins/feedsync/pkg/config"
	"github.com/fullofcoins/feedsync/pkg/feed"
	"github.com/fullofcoins/feedsync/pkg/ranges"
)

var (
	alice = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	bob   = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func newTestStore(t *testing.T, maxPosts int) *Store {
	t.Helper()

	store, err := New(&config.DB{Path: filepath.Join(t.TempDir(), "cache.db")}, maxPosts)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	return store
}

func post(sourceID string, id, block uint64, likers ...common.Address) *feed.Post {
	return &feed.Post{
		SourceID:    sourceID,
		ID:          id,
		Author:      alice,
		Content:     "hello",
		BlockNumber: block,
		Likers:      mapset.NewSet(likers...),
	}
}

func addPosts(newPosts ...*feed.Post) func(map[uint64]*feed.Post, map[common.Address]*feed.Profile) error {
	return func(posts map[uint64]*feed.Post, _ map[common.Address]*feed.Profile) error {
		for _, p := range newPosts {
			posts[p.ID] = p
		}
		return nil
	}
}

func noChange(map[uint64]*feed.Post, map[common.Address]*feed.Profile) error {
	return nil
}

func TestSourceRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 0)

	err := store.UpdateSource(ctx, "main",
		addPosts(post("main", 1, 120, bob), post("main", 2, 130)),
		ranges.Range{From: 100, To: 150})
	require.NoError(t, err)

	loaded, scanned, err := store.LoadSource(ctx, "main")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, []ranges.Range{{From: 100, To: 150}}, scanned)

	// Liker sets survive the JSON column round trip.
	require.Equal(t, 1, loaded[1].LikeCount())
	require.True(t, loaded[1].Likers.Contains(bob))
	require.Equal(t, 0, loaded[2].LikeCount())
}

func TestLoadUnknownSourceIsEmpty(t *testing.T) {
	store := newTestStore(t, 0)

	posts, scanned, err := store.LoadSource(context.Background(), "missing")
	require.NoError(t, err)
	require.NotNil(t, posts)
	require.Empty(t, posts)
	require.Empty(t, scanned)
}

func TestUpdateMergesRanges(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 0)

	require.NoError(t, store.UpdateSource(ctx, "main", noChange, ranges.Range{From: 100, To: 150}))
	require.NoError(t, store.UpdateSource(ctx, "main", noChange, ranges.Range{From: 151, To: 200}))
	require.NoError(t, store.UpdateSource(ctx, "main", noChange, ranges.Range{From: 300, To: 400}))

	scanned, err := store.ScannedRanges(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, []ranges.Range{{From: 100, To: 200}, {From: 300, To: 400}}, scanned)
}

func TestRangeOnlyUpdatePreservesPosts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 0)

	err := store.UpdateSource(ctx, "main",
		addPosts(post("main", 1, 120)), ranges.Range{From: 100, To: 150})
	require.NoError(t, err)

	// An empty scan records only the range, as the backfiller does.
	require.NoError(t, store.UpdateSource(ctx, "main", noChange, ranges.Range{From: 151, To: 160}))

	loaded, scanned, err := store.LoadSource(ctx, "main")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, []ranges.Range{{From: 100, To: 160}}, scanned)
}

func TestUpdateSeesPriorWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 0)

	// A backfill cycle lands post 1 while a head-tracking tick is fetching
	// a later interval. The tick's cycle must reconcile against the
	// backfilled state, not against the snapshot it started from.
	err := store.UpdateSource(ctx, "main",
		addPosts(post("main", 1, 150)), ranges.Range{From: 100, To: 200})
	require.NoError(t, err)

	err = store.UpdateSource(ctx, "main",
		func(posts map[uint64]*feed.Post, _ map[common.Address]*feed.Profile) error {
			require.Contains(t, posts, uint64(1))
			return nil
		}, ranges.Range{From: 201, To: 300})
	require.NoError(t, err)

	loaded, scanned, err := store.LoadSource(ctx, "main")
	require.NoError(t, err)
	require.Contains(t, loaded, uint64(1))
	require.Equal(t, []ranges.Range{{From: 100, To: 300}}, scanned)
}

func TestConcurrentUpdatesLoseNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 0)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(i uint64) {
			defer wg.Done()

			err := store.UpdateSource(ctx, "main",
				addPosts(post("main", i, 100+i)),
				ranges.Range{From: 1000 * i, To: 1000*i + 500})
			if err != nil {
				t.Error(err)
			}
		}(uint64(i))
	}
	wg.Wait()

	loaded, scanned, err := store.LoadSource(ctx, "main")
	require.NoError(t, err)
	require.Len(t, loaded, 8)
	require.Len(t, ranges.Merge(scanned), 8)
}

func TestFailedUpdateRecordsNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 0)

	err := store.UpdateSource(ctx, "main",
		addPosts(post("main", 1, 120)), ranges.Range{From: 100, To: 150})
	require.NoError(t, err)

	// A failing cycle must leave the row untouched even though it mutated
	// its maps: the range stays unscanned and is retried later.
	err = store.UpdateSource(ctx, "main",
		func(posts map[uint64]*feed.Post, profiles map[common.Address]*feed.Profile) error {
			posts[2] = post("main", 2, 160)
			profiles[bob] = feed.NewProfile(bob)
			return errors.New("reconcile failed")
		}, ranges.Range{From: 151, To: 200})
	require.Error(t, err)

	loaded, scanned, err := store.LoadSource(ctx, "main")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, []ranges.Range{{From: 100, To: 150}}, scanned)

	profiles, err := store.LoadProfiles(ctx)
	require.NoError(t, err)
	require.Empty(t, profiles)
}

func TestUpdateCommitsProfilesWithRange(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 0)

	err := store.UpdateSource(ctx, "main",
		func(_ map[uint64]*feed.Post, profiles map[common.Address]*feed.Profile) error {
			p := feed.NewProfile(alice)
			p.Following.Add(bob)
			profiles[alice] = p
			return nil
		}, ranges.Range{From: 100, To: 150})
	require.NoError(t, err)

	profiles, err := store.LoadProfiles(ctx)
	require.NoError(t, err)
	require.True(t, profiles[alice].Following.Contains(bob))

	scanned, err := store.ScannedRanges(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, []ranges.Range{{From: 100, To: 150}}, scanned)
}

func TestSourceRowIsolation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 0)

	require.NoError(t, store.UpdateSource(ctx, "sepolia",
		addPosts(post("sepolia", 1, 120)), ranges.Range{From: 100, To: 150}))
	require.NoError(t, store.UpdateSource(ctx, "coston",
		addPosts(post("coston", 1, 500)), ranges.Range{From: 400, To: 600}))

	sepPosts, sepRanges, err := store.LoadSource(ctx, "sepolia")
	require.NoError(t, err)
	require.Equal(t, uint64(120), sepPosts[1].BlockNumber)
	require.Equal(t, []ranges.Range{{From: 100, To: 150}}, sepRanges)

	all, err := store.AllPosts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestEvictionKeepsNewestAndRanges(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 3)

	batch := make([]*feed.Post, 0, 5)
	for i := uint64(1); i <= 5; i++ {
		batch = append(batch, post("main", i, 100+i))
	}

	require.NoError(t, store.UpdateSource(ctx, "main",
		addPosts(batch...), ranges.Range{From: 100, To: 200}))

	loaded, scanned, err := store.LoadSource(ctx, "main")
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	// Newest by feed order survive.
	require.Contains(t, loaded, uint64(5))
	require.Contains(t, loaded, uint64(4))
	require.Contains(t, loaded, uint64(3))

	// Coverage bookkeeping is untouched: evicted history must never be
	// re-scanned.
	require.Equal(t, []ranges.Range{{From: 100, To: 200}}, scanned)
}

func TestEvictionIsGlobalAcrossSources(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 2)

	require.NoError(t, store.UpdateSource(ctx, "old",
		addPosts(post("old", 1, 10), post("old", 2, 20)),
		ranges.Range{From: 10, To: 20}))
	require.NoError(t, store.UpdateSource(ctx, "new",
		addPosts(post("new", 1, 1000), post("new", 2, 1001)),
		ranges.Range{From: 1000, To: 1001}))

	all, err := store.AllPosts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, p := range all {
		require.Equal(t, "new", p.SourceID)
	}

	// The drained source keeps its scan coverage.
	scanned, err := store.ScannedRanges(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, []ranges.Range{{From: 10, To: 20}}, scanned)
}

func TestProfilesUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, 0)

	err := store.UpdateSource(ctx, "main",
		func(_ map[uint64]*feed.Post, profiles map[common.Address]*feed.Profile) error {
			p := feed.NewProfile(alice)
			p.Following.Add(bob)
			profiles[alice] = p

			q := feed.NewProfile(bob)
			q.Followers.Add(alice)
			profiles[bob] = q
			return nil
		})
	require.NoError(t, err)

	loaded, err := store.LoadProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.True(t, loaded[alice].Following.Contains(bob))
	require.True(t, loaded[bob].Followers.Contains(alice))

	// Upsert replaces, not duplicates.
	err = store.UpdateSource(ctx, "main",
		func(_ map[uint64]*feed.Post, profiles map[common.Address]*feed.Profile) error {
			profiles[alice].Following.Remove(bob)
			return nil
		})
	require.NoError(t, err)

	loaded, err = store.LoadProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.False(t, loaded[alice].Following.Contains(bob))
}
