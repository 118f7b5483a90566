// Package feedview derives the rendered feed: a sorted, paginated sequence
// of posts with new arrivals buffered for an explicit reveal instead of
// being spliced under the reader.
package feedview

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fullofcoins/feedsync/pkg/feed"
)

// Store is the read surface the view derives from. *cache.Store satisfies it.
type Store interface {
	AllPosts(ctx context.Context) ([]*feed.Post, error)
	LoadProfiles(ctx context.Context) (map[common.Address]*feed.Profile, error)
}

type Filter uint8

const (
	FilterAll Filter = iota
	FilterFollowing
)

type View struct {
	store    Store
	pageSize int

	mu      sync.Mutex
	filter  Filter
	viewer  common.Address
	sorted  []*feed.Post
	offset  int
	pending []*feed.Post
}

func New(store Store, pageSize int) *View {
	return &View{
		store:    store,
		pageSize: pageSize,
	}
}

// Refresh re-derives the whole sorted sequence from the cache and resets the
// pagination cursor. This is the defined response to any cache mutation the
// reader has asked to see.
func (v *View) Refresh(ctx context.Context) error {
	posts, err := v.load(ctx)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.sorted = posts
	v.offset = 0
	v.pending = nil

	return nil
}

// NextPage returns the next page of the current sequence and advances the
// cursor. An exhausted sequence yields an empty page.
func (v *View) NextPage() []*feed.Post {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.offset >= len(v.sorted) {
		return nil
	}

	end := v.offset + v.pageSize
	if end > len(v.sorted) {
		end = len(v.sorted)
	}

	page := v.sorted[v.offset:end]
	v.offset = end

	return page
}

// SetFilter switches between the full feed and the following-only feed for
// the given viewer, restarting pagination.
func (v *View) SetFilter(ctx context.Context, f Filter, viewer common.Address) error {
	v.mu.Lock()
	v.filter = f
	v.viewer = viewer
	v.mu.Unlock()

	return v.Refresh(ctx)
}

// CheckPending diffs the cache against the rendered sequence and buffers
// posts the reader has not seen. It returns the pending count; the visible
// feed is not touched.
func (v *View) CheckPending(ctx context.Context) (int, error) {
	posts, err := v.load(ctx)
	if err != nil {
		return 0, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	visible := make(map[feed.PostKey]bool, len(v.sorted))
	for _, p := range v.sorted {
		visible[p.Key()] = true
	}

	v.pending = nil
	for _, p := range posts {
		if !visible[p.Key()] {
			v.pending = append(v.pending, p)
		}
	}

	return len(v.pending), nil
}

func (v *View) PendingCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	return len(v.pending)
}

// RevealPending merges buffered arrivals into the visible feed. The merged
// sequence is recomputed from the cache so that like counts and follow
// edges are the freshest reconciled values, then deduplicated by post key
// and re-sorted; pagination restarts from the top.
func (v *View) RevealPending(ctx context.Context) error {
	v.mu.Lock()
	hasPending := len(v.pending) > 0
	v.mu.Unlock()

	if !hasPending {
		return nil
	}

	return v.Refresh(ctx)
}

func (v *View) load(ctx context.Context) ([]*feed.Post, error) {
	posts, err := v.store.AllPosts(ctx)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	filter, viewer := v.filter, v.viewer
	v.mu.Unlock()

	if filter == FilterFollowing {
		profiles, err := v.store.LoadProfiles(ctx)
		if err != nil {
			return nil, err
		}

		var followed []*feed.Post
		viewerProfile := profiles[viewer]
		for _, p := range posts {
			if viewerProfile != nil && viewerProfile.Following.Contains(p.Author) {
				followed = append(followed, p)
			}
		}
		posts = followed
	}

	deduped := make(map[feed.PostKey]*feed.Post, len(posts))
	for _, p := range posts {
		deduped[p.Key()] = p
	}

	out := make([]*feed.Post, 0, len(deduped))
	for _, p := range deduped {
		out = append(out, p)
	}
	feed.SortPosts(out)

	return out, nil
}
