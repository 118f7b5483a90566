// Package reconcile replays decoded chain events onto entity state.
package reconcile

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"

	"github.com/fullofcoins/feedsync/pkg/feed"
)

// Apply replays a batch of events for one source onto the given posts and
// follow profiles, mutating them in place. The batch is sorted by
// (blockNumber, logIndex) first; that total order matches on-chain execution
// and is the only order under which replay is correct.
//
// Apply is idempotent: re-running the same batch against the resulting state
// changes nothing, which makes retries after a failed save safe. A like for
// a post that is not present (its Posted event lies in an unscanned range)
// is dropped, not queued; backfill will eventually replay both in order.
func Apply(
	sourceID string,
	events []feed.RawEvent,
	posts map[uint64]*feed.Post,
	profiles map[common.Address]*feed.Profile,
) {
	ordered := append([]feed.RawEvent(nil), events...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Before(ordered[j])
	})

	for _, ev := range ordered {
		switch ev.Kind {
		case feed.EventPosted:
			posts[ev.PostID] = &feed.Post{
				SourceID:    sourceID,
				ID:          ev.PostID,
				Author:      ev.Author,
				Content:     ev.Content,
				ImageCID:    ev.ImageCID,
				Timestamp:   ev.Timestamp,
				ChainID:     ev.ChainID,
				BlockNumber: ev.BlockNumber,
				Likers:      mapset.NewSet[common.Address](),
			}

		case feed.EventLiked:
			if p, ok := posts[ev.PostID]; ok {
				p.Likers.Add(ev.Actor)
			}

		case feed.EventUnliked:
			if p, ok := posts[ev.PostID]; ok {
				p.Likers.Remove(ev.Actor)
			}

		case feed.EventFollowed:
			profileFor(profiles, ev.Follower).Following.Add(ev.Followed)
			profileFor(profiles, ev.Followed).Followers.Add(ev.Follower)

		case feed.EventUnfollowed:
			profileFor(profiles, ev.Follower).Following.Remove(ev.Followed)
			profileFor(profiles, ev.Followed).Followers.Remove(ev.Follower)
		}
	}
}

// HasPosted reports whether the batch creates any post, which is what the
// feed surfaces as "new arrivals".
func HasPosted(events []feed.RawEvent) bool {
	for _, ev := range events {
		if ev.Kind == feed.EventPosted {
			return true
		}
	}

	return false
}

func profileFor(profiles map[common.Address]*feed.Profile, addr common.Address) *feed.Profile {
	p, ok := profiles[addr]
	if !ok {
		p = feed.NewProfile(addr)
		profiles[addr] = p
	}

	return p
}
