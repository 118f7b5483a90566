package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// contractABI is the authoritative contract interface: the five feed events
// plus the state-changing entry points used by the writer.
const contractABI = `[
  {"type":"event","name":"TweetPosted","anonymous":false,"inputs":[
    {"name":"id","type":"uint256","indexed":false},
    {"name":"author","type":"address","indexed":true},
    {"name":"content","type":"string","indexed":false},
    {"name":"imageCid","type":"string","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false},
    {"name":"chainId","type":"uint256","indexed":false}]},
  {"type":"event","name":"TweetLiked","anonymous":false,"inputs":[
    {"name":"tweetId","type":"uint256","indexed":true},
    {"name":"user","type":"address","indexed":true}]},
  {"type":"event","name":"TweetUnliked","anonymous":false,"inputs":[
    {"name":"tweetId","type":"uint256","indexed":true},
    {"name":"user","type":"address","indexed":true}]},
  {"type":"event","name":"UserFollowed","anonymous":false,"inputs":[
    {"name":"follower","type":"address","indexed":true},
    {"name":"followed","type":"address","indexed":true}]},
  {"type":"event","name":"UserUnfollowed","anonymous":false,"inputs":[
    {"name":"follower","type":"address","indexed":true},
    {"name":"followed","type":"address","indexed":true}]},
  {"type":"function","name":"postTweet","stateMutability":"nonpayable","inputs":[
    {"name":"_content","type":"string"},
    {"name":"_imageCid","type":"string"}],"outputs":[]},
  {"type":"function","name":"likeTweet","stateMutability":"nonpayable","inputs":[
    {"name":"_tweetId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"unlikeTweet","stateMutability":"nonpayable","inputs":[
    {"name":"_tweetId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"follow","stateMutability":"nonpayable","inputs":[
    {"name":"_user","type":"address"}],"outputs":[]},
  {"type":"function","name":"unfollow","stateMutability":"nonpayable","inputs":[
    {"name":"_user","type":"address"}],"outputs":[]}
]`

var (
	feedABI = mustParseABI(contractABI)

	topicPosted     = feedABI.Events["TweetPosted"].ID
	topicLiked      = feedABI.Events["TweetLiked"].ID
	topicUnliked    = feedABI.Events["TweetUnliked"].ID
	topicFollowed   = feedABI.Events["UserFollowed"].ID
	topicUnfollowed = feedABI.Events["UserUnfollowed"].ID

	// eventTopics is the single topic filter covering every event kind,
	// passed to getLogs so one query returns the full interleaved history.
	eventTopics = []common.Hash{
		topicPosted, topicLiked, topicUnliked, topicFollowed, topicUnfollowed,
	}
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}

	return parsed
}
