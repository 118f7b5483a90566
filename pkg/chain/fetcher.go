package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/fullofcoins/feedsync/pkg/feed"
	"github.com/fullofcoins/feedsync/pkg/logger"
)

// Fetcher retrieves and decodes feed events for one contract, splitting a
// requested interval into provider-sized sub-windows.
type Fetcher struct {
	client    LogClient
	contract  common.Address
	chunkSize uint64
}

func NewFetcher(client LogClient, contract common.Address, chunkSize uint64) *Fetcher {
	return &Fetcher{
		client:    client,
		contract:  contract,
		chunkSize: chunkSize,
	}
}

// FetchRange fetches every feed event in the closed interval [from, to].
// Sub-windows are queried sequentially; if any of them fails, the whole
// fetch fails and no partial results are returned. The caller marks ranges
// as scanned only on success, and must never be handed an interval that was
// only partially covered.
func (f *Fetcher) FetchRange(ctx context.Context, from, to uint64) ([]feed.RawEvent, error) {
	if from > to {
		return nil, errors.Errorf("invalid range [%d, %d]", from, to)
	}

	var events []feed.RawEvent

	for winFrom := from; winFrom <= to; winFrom += f.chunkSize {
		winTo := winFrom + f.chunkSize - 1
		if winTo > to {
			winTo = to
		}

		logs, err := f.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(winFrom),
			ToBlock:   new(big.Int).SetUint64(winTo),
			Addresses: []common.Address{f.contract},
			Topics:    [][]common.Hash{eventTopics},
		})
		if err != nil {
			return nil, errors.Wrapf(err, "fetching logs [%d, %d]", winFrom, winTo)
		}

		dropped := 0
		for _, lg := range logs {
			ev, ok := DecodeLog(lg)
			if !ok {
				dropped++
				continue
			}
			events = append(events, ev)
		}

		if dropped > 0 {
			logger.Debugf("dropped %d undecodable logs in [%d, %d]", dropped, winFrom, winTo)
		}
	}

	return events, nil
}
