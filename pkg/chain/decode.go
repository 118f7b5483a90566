package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/fullofcoins/feedsync/pkg/feed"
)

// DecodeLog decodes a raw log into a typed event. Logs that do not match the
// known signatures, or whose payload fails to unpack, report ok=false and
// are dropped by the caller; the contract may emit events this client does
// not know about and that must never crash the pipeline.
func DecodeLog(lg types.Log) (feed.RawEvent, bool) {
	if len(lg.Topics) == 0 {
		return feed.RawEvent{}, false
	}

	ev := feed.RawEvent{
		BlockNumber: lg.BlockNumber,
		LogIndex:    lg.Index,
	}

	switch lg.Topics[0] {
	case topicPosted:
		if len(lg.Topics) < 2 {
			return feed.RawEvent{}, false
		}

		values, err := feedABI.Unpack("TweetPosted", lg.Data)
		if err != nil || len(values) != 5 {
			return feed.RawEvent{}, false
		}

		id, okID := values[0].(*big.Int)
		content, okContent := values[1].(string)
		imageCID, okImage := values[2].(string)
		timestamp, okTS := values[3].(*big.Int)
		chainID, okChain := values[4].(*big.Int)
		if !okID || !okContent || !okImage || !okTS || !okChain {
			return feed.RawEvent{}, false
		}

		ev.Kind = feed.EventPosted
		ev.PostID = id.Uint64()
		ev.Author = topicToAddress(lg.Topics[1])
		ev.Content = content
		ev.ImageCID = imageCID
		ev.Timestamp = timestamp.Uint64()
		ev.ChainID = chainID.Uint64()

	case topicLiked, topicUnliked:
		if len(lg.Topics) < 3 {
			return feed.RawEvent{}, false
		}

		ev.Kind = feed.EventLiked
		if lg.Topics[0] == topicUnliked {
			ev.Kind = feed.EventUnliked
		}
		ev.PostID = new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64()
		ev.Actor = topicToAddress(lg.Topics[2])

	case topicFollowed, topicUnfollowed:
		if len(lg.Topics) < 3 {
			return feed.RawEvent{}, false
		}

		ev.Kind = feed.EventFollowed
		if lg.Topics[0] == topicUnfollowed {
			ev.Kind = feed.EventUnfollowed
		}
		ev.Follower = topicToAddress(lg.Topics[1])
		ev.Followed = topicToAddress(lg.Topics[2])

	default:
		return feed.RawEvent{}, false
	}

	return ev, true
}

func topicToAddress(topic common.Hash) common.Address {
	return common.BytesToAddress(topic.Bytes())
}
