package feed

import (
	"encoding/json"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestFeedOrder(t *testing.T) {
	posts := []*Post{
		{SourceID: "a", ID: 1, BlockNumber: 100, Timestamp: 50},
		{SourceID: "b", ID: 7, BlockNumber: 300, Timestamp: 10},
		{SourceID: "a", ID: 2, BlockNumber: 100, Timestamp: 60},
		{SourceID: "a", ID: 3, BlockNumber: 200, Timestamp: 5},
	}

	SortPosts(posts)

	// Descending block number, ties broken by descending id.
	require.Equal(t, uint64(7), posts[0].ID)
	require.Equal(t, uint64(3), posts[1].ID)
	require.Equal(t, uint64(2), posts[2].ID)
	require.Equal(t, uint64(1), posts[3].ID)
}

func TestFeedOrderTimestampLastResort(t *testing.T) {
	older := &Post{SourceID: "a", ID: 5, BlockNumber: 100, Timestamp: 10}
	newer := &Post{SourceID: "b", ID: 5, BlockNumber: 100, Timestamp: 20}

	require.True(t, Less(newer, older))
	require.False(t, Less(older, newer))
}

func TestPostJSONFlattensLikers(t *testing.T) {
	addrA := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	addrB := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	post := &Post{
		SourceID:    "sepolia",
		ID:          42,
		Author:      addrA,
		Content:     "hello",
		BlockNumber: 120,
		Likers:      mapset.NewSet(addrB, addrA),
	}

	raw, err := json.Marshal(post)
	require.NoError(t, err)

	// The liker set is flattened to a sorted array; no independent like
	// count is persisted.
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NotContains(t, decoded, "likeCount")

	var back Post
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, 2, back.LikeCount())
	require.True(t, back.Likers.Contains(addrA))
	require.True(t, back.Likers.Contains(addrB))
	require.Equal(t, post.Key(), back.Key())
}

func TestProfileJSONRoundTrip(t *testing.T) {
	me := common.HexToAddress("0x1111111111111111111111111111111111111111")
	them := common.HexToAddress("0x2222222222222222222222222222222222222222")

	p := NewProfile(me)
	p.Following.Add(them)

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var back Profile
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, me, back.Address)
	require.True(t, back.Following.Contains(them))
	require.Equal(t, 0, back.Followers.Cardinality())
}
