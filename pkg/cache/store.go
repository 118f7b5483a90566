// Package cache persists reconciled feed state in a local sqlite database.
// One row per source holds that source's posts and scanned ranges; one row
// per address holds its follow profile. Every mutation runs as a single
// locked read-modify-write cycle through UpdateSource, so the head-tracking
// sync, the backfiller and user actions can never clobber each other's
// writes.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fullofcoins/feedsync/pkg/config"
	"github.com/fullofcoins/feedsync/pkg/feed"
	"github.com/fullofcoins/feedsync/pkg/logger"
	"github.com/fullofcoins/feedsync/pkg/ranges"
)

const createBatchSize = 1000

type SourceCache struct {
	SourceID      string `gorm:"primaryKey;type:varchar(64)"`
	Posts         datatypes.JSON
	ScannedRanges datatypes.JSON
	UpdatedAt     time.Time
}

type FollowProfile struct {
	Address   string `gorm:"primaryKey;type:varchar(42)"`
	Profile   datatypes.JSON
	UpdatedAt time.Time
}

type Store struct {
	g *gorm.DB

	// mu is held for the whole of every UpdateSource cycle, load through
	// commit. The head-tracking sync and the backfiller mutate the same
	// source rows, and neither may reconcile against a snapshot the other
	// is about to overwrite.
	mu       sync.Mutex
	maxPosts int
}

func New(cfg *config.DB, maxPosts int) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:          gormlogger.Default.LogMode(gormLogLevel(cfg)),
		CreateBatchSize: createBatchSize,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening cache db")
	}

	if err := db.AutoMigrate(&SourceCache{}, &FollowProfile{}); err != nil {
		return nil, errors.Wrap(err, "migrating cache db")
	}

	logger.Debug("cache db opened and migrated")

	return &Store{g: db, maxPosts: maxPosts}, nil
}

func gormLogLevel(cfg *config.DB) gormlogger.LogLevel {
	if cfg.LogQueries {
		return gormlogger.Info
	}

	return gormlogger.Silent
}

// LoadSource returns the reconciled posts (keyed by post id) and the scanned
// ranges recorded for one source. A source that has never been saved yields
// an empty map and no ranges.
func (s *Store) LoadSource(ctx context.Context, sourceID string) (map[uint64]*feed.Post, []ranges.Range, error) {
	var row SourceCache

	err := s.g.WithContext(ctx).First(&row, "source_id = ?", sourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return make(map[uint64]*feed.Post), nil, nil
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading source cache")
	}

	posts, err := decodePosts(row.Posts)
	if err != nil {
		return nil, nil, err
	}

	scanned, err := decodeRanges(row.ScannedRanges)
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[uint64]*feed.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}

	return byID, scanned, nil
}

// ScannedRanges returns the merged scanned-range set for one source.
func (s *Store) ScannedRanges(ctx context.Context, sourceID string) ([]ranges.Range, error) {
	_, scanned, err := s.LoadSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	return ranges.Merge(scanned), nil
}

// UpdateSource runs one read-modify-write cycle for a source. fn receives
// the freshly loaded posts (keyed by post id) and the follow-profile map,
// mutates them in place, and posts, profiles and the newly scanned ranges
// are then committed in a single transaction. The lock is held from load
// through commit, so fn always sees the latest state any other writer has
// committed. An error from fn or from the commit leaves the row untouched,
// scanned ranges included: a failed cycle records no progress and the
// caller retries the same interval later. Ranges are append-then-merge and
// never shrink. After a successful commit the global post bound is
// enforced; eviction only ever touches post payloads, never scanned ranges.
func (s *Store) UpdateSource(
	ctx context.Context,
	sourceID string,
	fn func(posts map[uint64]*feed.Post, profiles map[common.Address]*feed.Profile) error,
	scanned ...ranges.Range,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var row SourceCache
	err := s.g.WithContext(ctx).First(&row, "source_id = ?", sourceID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(err, "loading source cache")
	}

	posts, err := decodePosts(row.Posts)
	if err != nil {
		return err
	}

	byID := make(map[uint64]*feed.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}

	existing, err := decodeRanges(row.ScannedRanges)
	if err != nil {
		return err
	}

	profiles, err := s.LoadProfiles(ctx)
	if err != nil {
		return err
	}

	if err := fn(byID, profiles); err != nil {
		return err
	}

	merged := ranges.Merge(append(existing, scanned...))
	rangesJSON, err := json.Marshal(merged)
	if err != nil {
		return errors.Wrap(err, "encoding scanned ranges")
	}

	sorted := make([]*feed.Post, 0, len(byID))
	for _, p := range byID {
		sorted = append(sorted, p)
	}
	feed.SortPosts(sorted)

	postsJSON, err := json.Marshal(sorted)
	if err != nil {
		return errors.Wrap(err, "encoding posts")
	}

	row.SourceID = sourceID
	row.Posts = postsJSON
	row.ScannedRanges = rangesJSON
	row.UpdatedAt = time.Now()

	err = s.g.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for addr, p := range profiles {
			profileJSON, err := json.Marshal(p)
			if err != nil {
				return errors.Wrap(err, "encoding follow profile")
			}

			profileRow := FollowProfile{
				Address:   addr.Hex(),
				Profile:   profileJSON,
				UpdatedAt: time.Now(),
			}
			if err := tx.Save(&profileRow).Error; err != nil {
				return errors.Wrap(err, "saving follow profile")
			}
		}

		return tx.Save(&row).Error
	})
	if err != nil {
		logger.Warnf("cache update failed for source %s: %v", sourceID, err)
		return errors.Wrap(err, "saving source cache")
	}

	return s.evictLocked(ctx)
}

// evictLocked trims retained posts to the global bound, keeping the
// most-recent posts in feed order across all sources. Scanned ranges are
// retention-independent scan coverage and are left untouched, so evicted
// history is never re-scanned.
func (s *Store) evictLocked(ctx context.Context) error {
	if s.maxPosts <= 0 {
		return nil
	}

	var rows []SourceCache
	if err := s.g.WithContext(ctx).Find(&rows).Error; err != nil {
		return errors.Wrap(err, "loading caches for eviction")
	}

	all := make([]*feed.Post, 0)
	for i := range rows {
		posts, err := decodePosts(rows[i].Posts)
		if err != nil {
			return err
		}
		all = append(all, posts...)
	}

	if len(all) <= s.maxPosts {
		return nil
	}

	feed.SortPosts(all)
	kept := make(map[string][]*feed.Post, len(rows))
	for _, p := range all[:s.maxPosts] {
		kept[p.SourceID] = append(kept[p.SourceID], p)
	}

	evicted := len(all) - s.maxPosts
	logger.Infof("evicting %d posts beyond the %d-post cache bound", evicted, s.maxPosts)

	return s.g.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			postsJSON, err := json.Marshal(kept[rows[i].SourceID])
			if err != nil {
				return errors.Wrap(err, "encoding trimmed posts")
			}

			err = tx.Model(&SourceCache{}).
				Where("source_id = ?", rows[i].SourceID).
				Update("posts", datatypes.JSON(postsJSON)).
				Error
			if err != nil {
				return errors.Wrap(err, "trimming source cache")
			}
		}

		return nil
	})
}

// AllPosts returns every retained post across all sources, unsorted.
func (s *Store) AllPosts(ctx context.Context) ([]*feed.Post, error) {
	var rows []SourceCache
	if err := s.g.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "loading caches")
	}

	all := make([]*feed.Post, 0)
	for i := range rows {
		posts, err := decodePosts(rows[i].Posts)
		if err != nil {
			return nil, err
		}
		all = append(all, posts...)
	}

	return all, nil
}

// LoadProfiles returns the whole follow graph keyed by address.
func (s *Store) LoadProfiles(ctx context.Context) (map[common.Address]*feed.Profile, error) {
	var rows []FollowProfile
	if err := s.g.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "loading follow profiles")
	}

	profiles := make(map[common.Address]*feed.Profile, len(rows))
	for i := range rows {
		var p feed.Profile
		if err := json.Unmarshal(rows[i].Profile, &p); err != nil {
			return nil, errors.Wrap(err, "decoding follow profile")
		}
		profiles[p.Address] = &p
	}

	return profiles, nil
}

func (s *Store) Close() error {
	db, err := s.g.DB()
	if err != nil {
		return err
	}

	return db.Close()
}

func decodePosts(raw datatypes.JSON) ([]*feed.Post, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var posts []*feed.Post
	if err := json.Unmarshal(raw, &posts); err != nil {
		return nil, errors.Wrap(err, "decoding posts")
	}

	return posts, nil
}

func decodeRanges(raw datatypes.JSON) ([]ranges.Range, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var rs []ranges.Range
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, errors.Wrap(err, "decoding scanned ranges")
	}

	return rs, nil
}
