// Command rugclient plays RugMania from a terminal. Every invocation starts
// from a blank in-memory state, so each one exercises the same restore path
// a browser reload does.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"rugmania-backend/internal/logging"
)

type options struct {
	apiURL     string
	rpcURLs    []string
	chainID    int64
	contract   string
	privateKey string
	cachePath  string
	logLevel   string
}

func defaultOptions() options {
	chainID, _ := strconv.ParseInt(getenv("CHAIN_ID", "5003"), 10, 64)
	var urls []string
	for _, u := range strings.Split(os.Getenv("RPC_URLS"), ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}

	cache := os.Getenv("RUG_SEED_CACHE")
	if cache == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cache = filepath.Join(home, ".rugmania", "seeds.json")
		} else {
			cache = "rugmania-seeds.json"
		}
	}

	return options{
		apiURL:     getenv("RUG_API_URL", "http://localhost:8080"),
		rpcURLs:    urls,
		chainID:    chainID,
		contract:   os.Getenv("CONTRACT_ADDRESS"),
		privateKey: os.Getenv("RUG_PRIVATE_KEY"),
		cachePath:  cache,
		logLevel:   getenv("LOG_LEVEL", "warn"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

const usage = `usage: rugclient [flags] <command> [command flags]

commands:
  restore              reconcile with the chain and print the round
  bet -amount -doors   place a bet
  door -index          pick a door on the current level
  cashout              take the current payout
  watch                follow contract events for this wallet
  verify -seed -hash   check a server seed against its commitment
  token                print a session access token
`

func main() {
	_ = godotenv.Load()

	opts := defaultOptions()
	fs := flag.NewFlagSet("rugclient", flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage); fs.PrintDefaults() }
	fs.StringVar(&opts.apiURL, "api", opts.apiURL, "API base URL")
	fs.StringVar(&opts.contract, "contract", opts.contract, "game contract address")
	fs.StringVar(&opts.cachePath, "cache", opts.cachePath, "local seed cache file")
	fs.StringVar(&opts.logLevel, "log", opts.logLevel, "log level")
	fs.Int64Var(&opts.chainID, "chain-id", opts.chainID, "chain id")
	fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	logging.Init(os.Stderr, opts.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, fs.Arg(0), fs.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "rugclient: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, cmd string, args []string) error {
	switch cmd {
	case "verify":
		return cmdVerify(args)
	case "token":
		return cmdToken(ctx, opts)
	case "restore":
		return cmdRestore(ctx, opts)
	case "bet":
		return cmdBet(ctx, opts, args)
	case "door":
		return cmdDoor(ctx, opts, args)
	case "cashout":
		return cmdCashOut(ctx, opts)
	case "watch":
		return cmdWatch(ctx, opts, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
