package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type TxSource interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Verifier checks that a reported settlement happened on chain.
type Verifier struct {
	src      TxSource
	contract common.Address
	signer   types.Signer
}

func NewVerifier(src TxSource, contract string, chainID int64) *Verifier {
	return &Verifier{
		src:      src,
		contract: common.HexToAddress(contract),
		signer:   types.LatestSignerForChainID(big.NewInt(chainID)),
	}
}

// VerifySettlement checks that txRef was sent by player to the contract,
// succeeded, and emitted the terminal event matching won. For wins the
// on-chain payout is returned; for losses payout is nil.
func (v *Verifier) VerifySettlement(ctx context.Context, player, txRef string, won bool) (*big.Int, error) {
	player = strings.ToLower(player)
	hash := common.HexToHash(txRef)

	tx, pending, err := v.src.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("fetch transaction: %w", err)
	}
	if pending {
		return nil, ErrTxNotFound
	}

	rcpt, err := v.src.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, ErrTxNotFound
		}
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}

	from, err := types.Sender(v.signer, tx)
	if err != nil || strings.ToLower(from.Hex()) != player {
		return nil, ErrSenderMismatch
	}
	if tx.To() == nil || *tx.To() != v.contract {
		return nil, ErrTargetMismatch
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return nil, ErrTxReverted
	}

	// An undecodable log cannot be the terminal event we are looking for.
	events, _ := DecodeReceipt(rcpt, v.contract)
	for _, ev := range events {
		if ev.Meta().Player != player {
			continue
		}
		switch e := ev.(type) {
		case CashedOut:
			if won {
				return e.Payout, nil
			}
		case MaxLevelReached:
			if won {
				return e.Payout, nil
			}
		case Rugged:
			if !won {
				return nil, nil
			}
		}
	}
	return nil, ErrEventNotFound
}
