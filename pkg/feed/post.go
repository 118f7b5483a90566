package feed

import (
	"encoding/json"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
)

// PostKey identifies a post globally. Post ids are only unique within one
// source, so the source id is part of the key.
type PostKey struct {
	SourceID string
	PostID   uint64
}

// Post is a reconciled on-chain post. The like count is always derived from
// the liker set and never stored separately.
type Post struct {
	SourceID    string
	ID          uint64
	Author      common.Address
	Content     string
	ImageCID    string
	Timestamp   uint64
	ChainID     uint64
	BlockNumber uint64
	Likers      mapset.Set[common.Address]
}

func NewPost() *Post {
	return &Post{Likers: mapset.NewSet[common.Address]()}
}

func (p *Post) Key() PostKey {
	return PostKey{SourceID: p.SourceID, PostID: p.ID}
}

func (p *Post) LikeCount() int {
	if p.Likers == nil {
		return 0
	}

	return p.Likers.Cardinality()
}

type postJSON struct {
	SourceID    string   `json:"sourceId"`
	ID          uint64   `json:"id"`
	Author      string   `json:"author"`
	Content     string   `json:"content"`
	ImageCID    string   `json:"imageCid,omitempty"`
	Timestamp   uint64   `json:"timestamp"`
	ChainID     uint64   `json:"chainId"`
	BlockNumber uint64   `json:"blockNumber"`
	Likers      []string `json:"likers"`
}

// MarshalJSON flattens the liker set to a sorted address array.
func (p *Post) MarshalJSON() ([]byte, error) {
	return json.Marshal(postJSON{
		SourceID:    p.SourceID,
		ID:          p.ID,
		Author:      p.Author.Hex(),
		Content:     p.Content,
		ImageCID:    p.ImageCID,
		Timestamp:   p.Timestamp,
		ChainID:     p.ChainID,
		BlockNumber: p.BlockNumber,
		Likers:      flattenAddresses(p.Likers),
	})
}

func (p *Post) UnmarshalJSON(data []byte) error {
	var raw postJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.SourceID = raw.SourceID
	p.ID = raw.ID
	p.Author = common.HexToAddress(raw.Author)
	p.Content = raw.Content
	p.ImageCID = raw.ImageCID
	p.Timestamp = raw.Timestamp
	p.ChainID = raw.ChainID
	p.BlockNumber = raw.BlockNumber
	p.Likers = rehydrateAddresses(raw.Likers)

	return nil
}

// Profile aggregates the follow edges touching one address.
type Profile struct {
	Address   common.Address
	Following mapset.Set[common.Address]
	Followers mapset.Set[common.Address]
}

func NewProfile(addr common.Address) *Profile {
	return &Profile{
		Address:   addr,
		Following: mapset.NewSet[common.Address](),
		Followers: mapset.NewSet[common.Address](),
	}
}

type profileJSON struct {
	Address   string   `json:"address"`
	Following []string `json:"following"`
	Followers []string `json:"followers"`
}

func (p *Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(profileJSON{
		Address:   p.Address.Hex(),
		Following: flattenAddresses(p.Following),
		Followers: flattenAddresses(p.Followers),
	})
}

func (p *Profile) UnmarshalJSON(data []byte) error {
	var raw profileJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.Address = common.HexToAddress(raw.Address)
	p.Following = rehydrateAddresses(raw.Following)
	p.Followers = rehydrateAddresses(raw.Followers)

	return nil
}

func flattenAddresses(set mapset.Set[common.Address]) []string {
	if set == nil {
		return []string{}
	}

	out := make([]string, 0, set.Cardinality())
	for addr := range set.Iter() {
		out = append(out, addr.Hex())
	}

	sort.Strings(out)

	return out
}

func rehydrateAddresses(addrs []string) mapset.Set[common.Address] {
	set := mapset.NewSet[common.Address]()
	for _, a := range addrs {
		set.Add(common.HexToAddress(a))
	}

	return set
}
