package chain

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"

	"github.com/fullofcoins/feedsync/pkg/logger"
)

// LogClient is the read-only surface the sync engine needs from a chain.
// *ethclient.Client satisfies it.
type LogClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Dial connects to an RPC endpoint.
func Dial(rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", rpcURL)
	}

	return client, nil
}

// clientWithBackoff wraps every RPC call in an exponential-backoff retry and
// a per-request timeout. Transient provider errors are retried here; only
// after the backoff budget is exhausted does a call fail upward.
type clientWithBackoff struct {
	client         LogClient
	maxElapsedTime time.Duration
	requestTimeout time.Duration
}

func NewClientWithBackoff(client LogClient, maxElapsedTime, requestTimeout time.Duration) LogClient {
	return &clientWithBackoff{
		client:         client,
		maxElapsedTime: maxElapsedTime,
		requestTimeout: requestTimeout,
	}
}

func (cwb *clientWithBackoff) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64

	err := backoff.RetryNotify(
		func() (err error) {
			ctx, cancel := context.WithTimeout(ctx, cwb.requestTimeout)
			defer cancel()

			head, err = cwb.client.BlockNumber(ctx)
			return err
		},
		cwb.newBackoff(ctx),
		func(err error, d time.Duration) {
			logger.Errorf("BlockNumber error: %v. Will retry after %v", err, d)
		},
	)
	if err != nil {
		return 0, errors.Wrap(err, "BlockNumber failed")
	}

	return head, nil
}

func (cwb *clientWithBackoff) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log

	err := backoff.RetryNotify(
		func() (err error) {
			ctx, cancel := context.WithTimeout(ctx, cwb.requestTimeout)
			defer cancel()

			logs, err = cwb.client.FilterLogs(ctx, q)
			return err
		},
		cwb.newBackoff(ctx),
		func(err error, d time.Duration) {
			logger.Errorf("FilterLogs error: %v. Will retry after %v", err, d)
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "FilterLogs failed")
	}

	return logs, nil
}

func (cwb *clientWithBackoff) newBackoff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(cwb.maxElapsedTime),
	), ctx)
}
