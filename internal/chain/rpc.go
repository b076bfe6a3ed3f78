package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"rugmania-backend/internal/fairness"
)

const (
	readAttempts = 3
	mineTimeout  = 2 * time.Minute
)

type RPCConfig struct {
	URLs     []string
	ChainID  int64
	Contract string
	// PrivateKey is optional; without it the adapter is read-only.
	PrivateKey string
	Log        slog.Logger
}

// RPC is the go-ethereum backed Contract. Reads walk the endpoint list in
// order and retry each with backoff; writes go to the first endpoint only,
// since a resend could place a second bet.
type RPC struct {
	clients  []*ethclient.Client
	urls     []string
	contract common.Address
	chainID  *big.Int
	auth     *bind.TransactOpts
	player   common.Address
	log      slog.Logger
}

func DialRPC(ctx context.Context, cfg RPCConfig) (*RPC, error) {
	if len(cfg.URLs) == 0 {
		return nil, errors.New("no rpc urls configured")
	}
	if !common.IsHexAddress(cfg.Contract) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.Contract)
	}

	r := &RPC{
		urls:     cfg.URLs,
		contract: common.HexToAddress(cfg.Contract),
		chainID:  big.NewInt(cfg.ChainID),
		log:      cfg.Log,
	}
	if r.log == nil {
		r.log = slog.Disabled
	}

	for _, u := range cfg.URLs {
		c, err := ethclient.DialContext(ctx, u)
		if err != nil {
			r.log.Warnf("Skipping rpc endpoint %s: %v", u, err)
			continue
		}
		r.clients = append(r.clients, c)
	}
	if len(r.clients) == 0 {
		return nil, errors.New("no rpc endpoint could be dialed")
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		if err := r.setSigner(key); err != nil {
			r.Close()
			return nil, err
		}
	}

	return r, nil
}

func (r *RPC) setSigner(key *ecdsa.PrivateKey) error {
	auth, err := bind.NewKeyedTransactorWithChainID(key, r.chainID)
	if err != nil {
		return fmt.Errorf("failed to build transactor: %w", err)
	}
	r.auth = auth
	r.player = crypto.PubkeyToAddress(key.PublicKey)
	return nil
}

// Player is the lowercase address of the signing key, or "" when read-only.
func (r *RPC) Player() string {
	if r.auth == nil {
		return ""
	}
	return strings.ToLower(r.player.Hex())
}

func (r *RPC) ContractAddress() common.Address {
	return r.contract
}

func (r *RPC) Close() {
	for _, c := range r.clients {
		c.Close()
	}
}

// read runs fn against each endpoint in turn until one succeeds.
func (r *RPC) read(ctx context.Context, what string, fn func(*ethclient.Client) error) error {
	var lastErr error
	for i, c := range r.clients {
		op := func() error {
			err := fn(c)
			if errors.Is(err, ethereum.NotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), readAttempts-1), ctx)
		err := backoff.Retry(op, b)
		if err == nil {
			return nil
		}
		if errors.Is(err, ethereum.NotFound) || ctx.Err() != nil {
			return err
		}
		r.log.Debugf("%s failed on %s: %v", what, r.urls[i], err)
		lastErr = err
	}
	return fmt.Errorf("%s: all rpc endpoints failed: %w", what, lastErr)
}

func (r *RPC) bound(c *ethclient.Client) *bind.BoundContract {
	return bind.NewBoundContract(r.contract, contractABI, c, c, c)
}

func (r *RPC) GetGame(ctx context.Context, player string) (*Session, error) {
	if !common.IsHexAddress(player) {
		return nil, fmt.Errorf("invalid player address %q", player)
	}
	addr := common.HexToAddress(player)

	var out []interface{}
	err := r.read(ctx, "getGame", func(c *ethclient.Client) error {
		out = nil
		return r.bound(c).Call(&bind.CallOpts{Context: ctx}, &out, "getGame", addr)
	})
	if err != nil {
		return nil, err
	}
	return sessionFromOutputs(out)
}

func sessionFromOutputs(out []interface{}) (*Session, error) {
	if len(out) != 7 {
		return nil, fmt.Errorf("getGame: unexpected %d outputs", len(out))
	}
	active, ok1 := out[0].(bool)
	level, ok2 := out[1].(uint8)
	bet, ok3 := out[2].(*big.Int)
	doors, ok4 := out[3].(uint8)
	hash, ok5 := out[4].([32]byte)
	seed, ok6 := out[5].([32]byte)
	mult, ok7 := out[6].(*big.Int)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return nil, errors.New("getGame: unexpected output types")
	}
	return &Session{
		IsActive:       active,
		CurrentLevel:   int(level),
		BetAmount:      bet,
		DoorsPerLevel:  int(doors),
		ServerSeedHash: fairness.Hash(hash),
		ClientSeed:     fairness.Seed(seed),
		Multiplier:     mult,
	}, nil
}

func (r *RPC) PlaceBet(ctx context.Context, doors int, clientSeed fairness.Seed, commitment fairness.Hash, value *big.Int) (*Receipt, error) {
	return r.transact(ctx, value, "placeBet", uint8(doors), [32]byte(clientSeed), [32]byte(commitment))
}

func (r *RPC) SelectDoor(ctx context.Context, door int, secret fairness.Seed) (*Receipt, error) {
	return r.transact(ctx, nil, "selectDoor", uint8(door), [32]byte(secret))
}

func (r *RPC) CashOut(ctx context.Context) (*Receipt, error) {
	return r.transact(ctx, nil, "cashOut")
}

func (r *RPC) transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (*Receipt, error) {
	if r.auth == nil {
		return nil, ErrNoSigner
	}
	c := r.clients[0]

	opts := *r.auth
	opts.Context = ctx
	opts.Value = value

	tx, err := r.bound(c).Transact(&opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	r.log.Infof("Sent %s tx %s", method, tx.Hash().Hex())

	mctx, cancel := context.WithTimeout(ctx, mineTimeout)
	defer cancel()

	rcpt, err := bind.WaitMined(mctx, c, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: waiting for %s: %w", method, tx.Hash().Hex(), err)
	}
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%s %s: %w", method, tx.Hash().Hex(), ErrTxReverted)
	}

	// The tx is mined and succeeded; undecodable logs must not turn it
	// into a failure.
	events, err := DecodeReceipt(rcpt, r.contract)
	if err != nil {
		r.log.Warnf("Skipping undecodable logs in %s tx %s: %v", method, tx.Hash().Hex(), err)
	}
	return &Receipt{
		TxHash:      rcpt.TxHash.Hex(),
		BlockNumber: rcpt.BlockNumber.Uint64(),
		Events:      events,
	}, nil
}

// The methods below let the RPC serve as a TxSource and LogSource with the
// same endpoint fallback as reads.

func (r *RPC) TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, pending bool, err error) {
	err = r.read(ctx, "TransactionByHash", func(c *ethclient.Client) error {
		var e error
		tx, pending, e = c.TransactionByHash(ctx, hash)
		return e
	})
	return tx, pending, err
}

func (r *RPC) TransactionReceipt(ctx context.Context, hash common.Hash) (rcpt *types.Receipt, err error) {
	err = r.read(ctx, "TransactionReceipt", func(c *ethclient.Client) error {
		var e error
		rcpt, e = c.TransactionReceipt(ctx, hash)
		return e
	})
	return rcpt, err
}

func (r *RPC) BlockNumber(ctx context.Context) (n uint64, err error) {
	err = r.read(ctx, "BlockNumber", func(c *ethclient.Client) error {
		var e error
		n, e = c.BlockNumber(ctx)
		return e
	})
	return n, err
}

func (r *RPC) FilterLogs(ctx context.Context, q ethereum.FilterQuery) (logs []types.Log, err error) {
	err = r.read(ctx, "FilterLogs", func(c *ethclient.Client) error {
		var e error
		logs, e = c.FilterLogs(ctx, q)
		return e
	})
	return logs, err
}

// Verifier returns a settlement verifier backed by this RPC.
func (r *RPC) Verifier() *Verifier {
	return NewVerifier(r, r.contract.Hex(), r.chainID.Int64())
}
