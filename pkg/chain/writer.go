package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/fullofcoins/feedsync/pkg/logger"
)

// ErrReadOnly is returned for every state-changing call when no signer was
// supplied. The read path is unaffected.
var ErrReadOnly = errors.New("no signer configured: feed is read-only")

// TxBackend is the chain surface needed to submit and confirm transactions.
// *ethclient.Client satisfies it.
type TxBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Writer submits user actions to the feed contract and waits for them to be
// mined. The signer capability is supplied externally; the writer never
// manages keys.
type Writer struct {
	backend TxBackend
	bound   *bind.BoundContract
	signer  *bind.TransactOpts
}

func NewWriter(backend TxBackend, contract common.Address, signer *bind.TransactOpts) *Writer {
	return &Writer{
		backend: backend,
		bound:   bind.NewBoundContract(contract, feedABI, backend, backend, backend),
		signer:  signer,
	}
}

func (w *Writer) PostTweet(ctx context.Context, content, imageCID string) error {
	return w.transact(ctx, "postTweet", content, imageCID)
}

func (w *Writer) LikeTweet(ctx context.Context, postID uint64) error {
	return w.transact(ctx, "likeTweet", new(big.Int).SetUint64(postID))
}

func (w *Writer) UnlikeTweet(ctx context.Context, postID uint64) error {
	return w.transact(ctx, "unlikeTweet", new(big.Int).SetUint64(postID))
}

func (w *Writer) Follow(ctx context.Context, user common.Address) error {
	return w.transact(ctx, "follow", user)
}

func (w *Writer) Unfollow(ctx context.Context, user common.Address) error {
	return w.transact(ctx, "unfollow", user)
}

func (w *Writer) transact(ctx context.Context, method string, args ...interface{}) error {
	if w == nil || w.signer == nil {
		return ErrReadOnly
	}

	opts := *w.signer
	opts.Context = ctx

	tx, err := w.bound.Transact(&opts, method, args...)
	if err != nil {
		return errors.Wrapf(err, "submitting %s", method)
	}

	logger.Debugf("%s submitted as %s, waiting for confirmation", method, tx.Hash())

	receipt, err := bind.WaitMined(ctx, w.backend, tx)
	if err != nil {
		return errors.Wrapf(err, "awaiting %s confirmation", method)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return errors.Errorf("%s transaction %s reverted", method, tx.Hash())
	}

	return nil
}
