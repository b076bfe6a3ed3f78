package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"rugmania-backend/internal/apiclient"
	"rugmania-backend/internal/chain"
	"rugmania-backend/internal/fairness"
	"rugmania-backend/internal/game"
	"rugmania-backend/internal/logging"
	"rugmania-backend/internal/models"
	"rugmania-backend/internal/seedcache"
	"rugmania-backend/internal/wallet"
)

// session is everything a command needs to drive one wallet.
type session struct {
	player string
	rpc    *chain.RPC
	api    *apiclient.Client
	cache  *seedcache.File
	engine *game.Engine
}

func (s *session) Close() {
	s.engine.Close()
	s.rpc.Close()
}

func accessToken(ctx context.Context, api *apiclient.Client, privateKey string) (string, string, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return "", "", fmt.Errorf("invalid RUG_PRIVATE_KEY: %w", err)
	}
	addr := strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())

	ts := time.Now().UnixMilli()
	sig, err := crypto.Sign(wallet.PersonalSignHash(models.SessionAccessMessage(addr, ts)), key)
	if err != nil {
		return "", "", err
	}
	sig[64] += 27

	token, err := api.RequestToken(ctx, models.TokenRequest{
		Address:   addr,
		Signature: "0x" + hex.EncodeToString(sig),
		Timestamp: ts,
	})
	return addr, token, err
}

func open(ctx context.Context, opts options) (*session, error) {
	if opts.privateKey == "" {
		return nil, errors.New("RUG_PRIVATE_KEY is not set")
	}

	rpc, err := chain.DialRPC(ctx, chain.RPCConfig{
		URLs:       opts.rpcURLs,
		ChainID:    opts.chainID,
		Contract:   opts.contract,
		PrivateKey: opts.privateKey,
		Log:        logging.Logger(logging.Chain),
	})
	if err != nil {
		return nil, err
	}

	api := apiclient.New(opts.apiURL, nil)
	if _, _, err := accessToken(ctx, api, opts.privateKey); err != nil {
		// Without a token the server-side store is unreachable, but the
		// local cache and the chain still work.
		logging.Logger(logging.Game).Warnf("No session token: %v", err)
	}

	cache := seedcache.NewFile(opts.cachePath)
	engine := game.NewEngine(game.Config{
		Player:      rpc.Player(),
		Contract:    rpc,
		Cache:       cache,
		Store:       api,
		Settlements: api,
		Log:         logging.Logger(logging.Game),
	})

	return &session{player: rpc.Player(), rpc: rpc, api: api, cache: cache, engine: engine}, nil
}

// openRestored opens a session and reconciles it with the chain, the way
// a page load would.
func openRestored(ctx context.Context, opts options) (*session, error) {
	s, err := open(ctx, opts)
	if err != nil {
		return nil, err
	}
	if _, err := s.engine.Refresh(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func printState(st game.State) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func cmdVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	seed := fs.String("seed", "", "revealed server seed")
	hash := fs.String("hash", "", "committed server seed hash")
	fs.Parse(args)

	if *seed == "" || *hash == "" {
		return errors.New("verify needs -seed and -hash")
	}
	ok := fairness.Verify(*seed, *hash)
	fmt.Println(ok)
	if !ok {
		return game.ErrCommitmentMismatch
	}
	return nil
}

func cmdToken(ctx context.Context, opts options) error {
	if opts.privateKey == "" {
		return errors.New("RUG_PRIVATE_KEY is not set")
	}
	addr, token, err := accessToken(ctx, apiclient.New(opts.apiURL, nil), opts.privateKey)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", addr, token)
	return nil
}

func cmdRestore(ctx context.Context, opts options) error {
	s, err := openRestored(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	return printState(s.engine.State())
}

func cmdBet(ctx context.Context, opts options, args []string) error {
	fs := flag.NewFlagSet("bet", flag.ExitOnError)
	amount := fs.Float64("amount", models.MinBet, "bet in MNT")
	doors := fs.Int("doors", 4, "doors per level (3, 4 or 5)")
	clientSeed := fs.String("client-seed", "", "custom client seed (0x + 64 hex), kept for later rounds; \"random\" clears it")
	fs.Parse(args)

	s, err := openRestored(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	switch *clientSeed {
	case "":
	case "random":
		if err := s.cache.SetCustomClientSeed(""); err != nil {
			return err
		}
	default:
		if !fairness.IsSeedHex(*clientSeed) {
			return fairness.ErrInvalidSeed
		}
		if err := s.cache.SetCustomClientSeed(*clientSeed); err != nil {
			return err
		}
	}

	st, err := s.engine.StartGame(ctx, *amount, *doors)
	if err != nil {
		return err
	}
	return printState(st)
}

func cmdDoor(ctx context.Context, opts options, args []string) error {
	fs := flag.NewFlagSet("door", flag.ExitOnError)
	index := fs.Int("index", -1, "door to open, from 0")
	fs.Parse(args)

	s, err := openRestored(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.engine.SelectDoor(ctx, *index)
	if err != nil {
		if errors.Is(err, game.ErrSessionUnrecoverable) {
			fmt.Fprintln(os.Stderr, "server seed lost for this round; cash out instead")
		}
		return err
	}
	return printState(st)
}

func cmdCashOut(ctx context.Context, opts options) error {
	s, err := openRestored(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.engine.CashOut(ctx)
	if err != nil {
		return err
	}
	return printState(st)
}

// cmdWatch follows the wallet's events and re-reads the chain now and then
// in case a log was missed.
func cmdWatch(ctx context.Context, opts options, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	interval := fs.Duration("interval", chain.DefaultPollInterval, "log poll interval")
	refresh := fs.Duration("refresh", 30*time.Second, "full reconcile interval")
	fs.Parse(args)

	s, err := openRestored(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := printState(s.engine.State()); err != nil {
		return err
	}

	poller := chain.NewPoller(s.rpc, s.rpc.ContractAddress().Hex(), s.player, *interval, logging.Logger(logging.Chain))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.Run(gctx, func(ev chain.Event) {
			printState(s.engine.HandleEvent(gctx, ev))
		})
	})
	g.Go(func() error {
		ticker := time.NewTicker(*refresh)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := s.engine.Refresh(gctx); err != nil {
					logging.Logger(logging.Game).Warnf("Refresh failed: %v", err)
				}
			}
		}
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
