package feed

import "github.com/ethereum/go-ethereum/common"

// EventKind enumerates every contract event the client understands. The
// reconciler switches over this enum exhaustively; adding a kind without
// handling it there is a compile-visible change, not a silently dropped
// string.
type EventKind uint8

const (
	EventPosted EventKind = iota
	EventLiked
	EventUnliked
	EventFollowed
	EventUnfollowed
)

func (k EventKind) String() string {
	switch k {
	case EventPosted:
		return "TweetPosted"
	case EventLiked:
		return "TweetLiked"
	case EventUnliked:
		return "TweetUnliked"
	case EventFollowed:
		return "UserFollowed"
	case EventUnfollowed:
		return "UserUnfollowed"
	}

	return "unknown"
}

// RawEvent is a decoded log entry. It lives only between the fetcher and the
// reconciler and is never persisted. BlockNumber and LogIndex together give
// the authoritative causal order.
type RawEvent struct {
	Kind        EventKind
	BlockNumber uint64
	LogIndex    uint

	// EventPosted
	PostID    uint64
	Author    common.Address
	Content   string
	ImageCID  string
	Timestamp uint64
	ChainID   uint64

	// EventLiked / EventUnliked (PostID shared with EventPosted)
	Actor common.Address

	// EventFollowed / EventUnfollowed
	Follower common.Address
	Followed common.Address
}

// Before reports whether e occurred strictly before other in chain execution
// order.
func (e RawEvent) Before(other RawEvent) bool {
	if e.BlockNumber != other.BlockNumber {
		return e.BlockNumber < other.BlockNumber
	}

	return e.LogIndex < other.LogIndex
}
