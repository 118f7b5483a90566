// Package app wires the sync engine, cache and feed view together and
// exposes the operations a UI layer drives: initialize, load from cache,
// synchronize, reveal pending arrivals, paginate, and the signed user
// actions.
package app

import (
	"context"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/fullofcoins/feedsync/pkg/cache"
	"github.com/fullofcoins/feedsync/pkg/chain"
	"github.com/fullofcoins/feedsync/pkg/config"
	"github.com/fullofcoins/feedsync/pkg/feed"
	"github.com/fullofcoins/feedsync/pkg/feedview"
	"github.com/fullofcoins/feedsync/pkg/ipfs"
	"github.com/fullofcoins/feedsync/pkg/logger"
	"github.com/fullofcoins/feedsync/pkg/ranges"
	"github.com/fullofcoins/feedsync/pkg/syncer"
)

// Store is the cache surface the app needs. *cache.Store satisfies it. User
// actions mutate cache state through the same locked read-modify-write cycle
// the sync engine uses, so an optimistic update can never overwrite a
// concurrent tick's reconciled state.
type Store interface {
	UpdateSource(
		ctx context.Context,
		sourceID string,
		fn func(posts map[uint64]*feed.Post, profiles map[common.Address]*feed.Profile) error,
		scanned ...ranges.Range,
	) error
	AllPosts(ctx context.Context) ([]*feed.Post, error)
	LoadProfiles(ctx context.Context) (map[common.Address]*feed.Profile, error)
}

// Writer submits user actions for one source. *chain.Writer satisfies it.
type Writer interface {
	PostTweet(ctx context.Context, content, imageCID string) error
	LikeTweet(ctx context.Context, postID uint64) error
	UnlikeTweet(ctx context.Context, postID uint64) error
	Follow(ctx context.Context, user common.Address) error
	Unfollow(ctx context.Context, user common.Address) error
}

type App struct {
	cfg        *config.BaseConfig
	store      Store
	syncer     *syncer.Syncer
	backfiller *syncer.Backfiller
	view       *feedview.View
	writers    map[string]Writer
	uploader   *ipfs.Uploader
	viewer     common.Address
}

// New connects to every configured source and opens the local cache. A nil
// signer yields a read-only app: the feed still syncs and renders, and every
// state-changing action fails with chain.ErrReadOnly.
func New(cfg *config.BaseConfig, signer *bind.TransactOpts) (*App, error) {
	store, err := cache.New(&cfg.DB, cfg.Sync.MaxPosts)
	if err != nil {
		return nil, err
	}

	requestTimeout := time.Duration(cfg.Timeout.RequestTimeoutMillis) * time.Millisecond
	maxElapsed := time.Duration(cfg.Timeout.BackoffMaxElapsedTimeSeconds) * time.Second

	sources := make([]syncer.Source, 0, len(cfg.Sources))
	writers := make(map[string]Writer)

	for _, src := range cfg.Sources {
		client, err := chain.Dial(src.RPCURL)
		if err != nil {
			return nil, err
		}

		contract := common.HexToAddress(src.ContractAddress)
		retrying := chain.NewClientWithBackoff(client, maxElapsed, requestTimeout)

		sources = append(sources, syncer.Source{
			Name:       src.Name,
			StartBlock: src.StartBlock,
			Client:     retrying,
			Fetcher:    chain.NewFetcher(retrying, contract, cfg.Sync.ChunkSize),
		})

		if signer != nil {
			writers[src.Name] = chain.NewWriter(client, contract, signer)
		}
	}

	a := &App{
		cfg:     cfg,
		store:   store,
		syncer:  syncer.New(store, sources, cfg.Sync),
		backfiller: syncer.NewBackfiller(
			store, sources, cfg.Sync.BackfillChunkSize,
			time.Duration(cfg.Sync.BackfillIntervalSeconds)*time.Second,
		),
		view:     feedview.New(store, cfg.Sync.PageSize),
		writers:  writers,
		uploader: ipfs.NewUploader(cfg.IPFS.APIURL, cfg.IPFS.MaxFileSizeMB),
	}
	if signer != nil {
		a.viewer = signer.From
	}

	return a, nil
}

// Initialize derives the initial view from whatever the cache already holds.
func (a *App) Initialize(ctx context.Context) error {
	return a.view.Refresh(ctx)
}

// LoadFromCache re-derives the feed from the cache and returns its first page.
func (a *App) LoadFromCache(ctx context.Context) ([]*feed.Post, error) {
	if err := a.view.Refresh(ctx); err != nil {
		return nil, err
	}

	return a.view.NextPage(), nil
}

// Synchronize runs one sync tick across all sources, kicks the backfiller,
// and returns how many new arrivals are buffered for reveal.
func (a *App) Synchronize(ctx context.Context) (int, error) {
	a.syncer.SyncAll(ctx)
	a.backfiller.Kick(ctx)

	return a.view.CheckPending(ctx)
}

// RevealPending merges buffered arrivals into the visible feed.
func (a *App) RevealPending(ctx context.Context) error {
	return a.view.RevealPending(ctx)
}

// RenderNextPage returns the next page of the visible feed.
func (a *App) RenderNextPage() []*feed.Post {
	return a.view.NextPage()
}

// ShowFollowingOnly toggles between the full feed and posts from authors the
// viewer follows. Pagination restarts.
func (a *App) ShowFollowingOnly(ctx context.Context, followingOnly bool) error {
	filter := feedview.FilterAll
	if followingOnly {
		filter = feedview.FilterFollowing
	}

	return a.view.SetFilter(ctx, filter, a.viewer)
}

// Post publishes a new post on the given source, first uploading the
// attachment when one is supplied. An upload failure aborts the action
// before any transaction is sent.
func (a *App) Post(ctx context.Context, sourceID, content string, image io.Reader, imageName string) error {
	w, err := a.writerFor(sourceID)
	if err != nil {
		return err
	}

	imageCID := ""
	if image != nil {
		imageCID, err = a.uploader.Upload(ctx, imageName, image)
		if err != nil {
			return errors.Wrap(err, "uploading attachment")
		}
	}

	if err := w.PostTweet(ctx, content, imageCID); err != nil {
		return errors.Wrap(err, "posting")
	}

	return nil
}

// ToggleLike likes the post if the viewer has not liked it, and unlikes it
// otherwise. The liker set is updated optimistically before the transaction
// is submitted and rolled back exactly to its prior state on failure.
func (a *App) ToggleLike(ctx context.Context, sourceID string, postID uint64) error {
	w, err := a.writerFor(sourceID)
	if err != nil {
		return err
	}

	var liked bool
	err = a.store.UpdateSource(ctx, sourceID,
		func(posts map[uint64]*feed.Post, _ map[common.Address]*feed.Profile) error {
			post, ok := posts[postID]
			if !ok {
				return errors.Errorf("unknown post %d on source %s", postID, sourceID)
			}

			liked = post.Likers.Contains(a.viewer)
			if liked {
				post.Likers.Remove(a.viewer)
			} else {
				post.Likers.Add(a.viewer)
			}
			return nil
		})
	if err != nil {
		return err
	}

	if liked {
		err = w.UnlikeTweet(ctx, postID)
	} else {
		err = w.LikeTweet(ctx, postID)
	}
	if err != nil {
		a.rollbackLike(ctx, sourceID, postID, liked)
		return errors.Wrap(err, "like action failed")
	}

	return nil
}

func (a *App) rollbackLike(ctx context.Context, sourceID string, postID uint64, wasLiked bool) {
	err := a.store.UpdateSource(ctx, sourceID,
		func(posts map[uint64]*feed.Post, _ map[common.Address]*feed.Profile) error {
			post, ok := posts[postID]
			if !ok {
				return nil
			}

			if wasLiked {
				post.Likers.Add(a.viewer)
			} else {
				post.Likers.Remove(a.viewer)
			}
			return nil
		})
	if err != nil {
		logger.Errorf("like rollback for %s failed: %v", sourceID, err)
	}
}

// SetFollow follows or unfollows the given user, with the same optimistic
// update and exact rollback semantics as ToggleLike.
func (a *App) SetFollow(ctx context.Context, sourceID string, user common.Address, follow bool) error {
	w, err := a.writerFor(sourceID)
	if err != nil {
		return err
	}

	if err := a.applyFollow(ctx, sourceID, user, follow); err != nil {
		return err
	}

	if follow {
		err = w.Follow(ctx, user)
	} else {
		err = w.Unfollow(ctx, user)
	}
	if err != nil {
		if rbErr := a.applyFollow(ctx, sourceID, user, !follow); rbErr != nil {
			logger.Errorf("follow rollback failed: %v", rbErr)
		}
		return errors.Wrap(err, "follow action failed")
	}

	return nil
}

func (a *App) applyFollow(ctx context.Context, sourceID string, user common.Address, follow bool) error {
	return a.store.UpdateSource(ctx, sourceID,
		func(_ map[uint64]*feed.Post, profiles map[common.Address]*feed.Profile) error {
			viewer := profileFor(profiles, a.viewer)
			target := profileFor(profiles, user)

			if follow {
				viewer.Following.Add(user)
				target.Followers.Add(a.viewer)
			} else {
				viewer.Following.Remove(user)
				target.Followers.Remove(a.viewer)
			}
			return nil
		})
}

func (a *App) writerFor(sourceID string) (Writer, error) {
	w, ok := a.writers[sourceID]
	if !ok {
		return nil, chain.ErrReadOnly
	}

	return w, nil
}

func profileFor(profiles map[common.Address]*feed.Profile, addr common.Address) *feed.Profile {
	p, ok := profiles[addr]
	if !ok {
		p = feed.NewProfile(addr)
		profiles[addr] = p
	}

	return p
}
