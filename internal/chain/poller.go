package chain

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	DefaultPollInterval = 3 * time.Second
	seenCapacity        = 4096
)

type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Poller tails contract logs. Each window starts at the last tip seen, so
// boundary blocks are fetched twice; events are deduplicated by
// txHash-logIndex.
type Poller struct {
	src      LogSource
	contract common.Address
	player   string
	interval time.Duration
	log      slog.Logger

	last  uint64
	seen  map[string]struct{}
	order []string
}

// NewPoller watches contract; a non-empty player restricts it to that
// player's events.
func NewPoller(src LogSource, contract, player string, interval time.Duration, log slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = slog.Disabled
	}
	return &Poller{
		src:      src,
		contract: common.HexToAddress(contract),
		player:   strings.ToLower(player),
		interval: interval,
		log:      log,
		seen:     make(map[string]struct{}),
	}
}

// Run polls until ctx is done, passing each new event to handle in chain
// order. Poll errors are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context, handle func(Event)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		events, err := p.Poll(ctx)
		if err != nil {
			p.log.Warnf("Event poll failed: %v", err)
		}
		for _, ev := range events {
			handle(ev)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll fetches one window of logs and returns the events not seen before.
func (p *Poller) Poll(ctx context.Context) ([]Event, error) {
	tip, err := p.src.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	from := p.last
	if from == 0 && tip > 0 {
		from = tip - 1
	}
	if from > tip {
		from = tip
	}

	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(tip),
		Addresses: []common.Address{p.contract},
		Topics:    [][]common.Hash{EventTopics()},
	}
	if p.player != "" {
		q.Topics = append(q.Topics, []common.Hash{common.BytesToHash(common.HexToAddress(p.player).Bytes())})
	}

	logs, err := p.src.FilterLogs(ctx, q)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, lg := range logs {
		ev, ok, err := DecodeLog(lg)
		if err != nil {
			p.log.Warnf("Skipping undecodable log %s-%d: %v", lg.TxHash.Hex(), lg.Index, err)
			continue
		}
		if !ok || (p.player != "" && ev.Meta().Player != p.player) {
			continue
		}
		if !p.markSeen(ev.Meta().ID()) {
			continue
		}
		events = append(events, ev)
	}

	p.last = tip
	return events, nil
}

func (p *Poller) markSeen(id string) bool {
	if _, ok := p.seen[id]; ok {
		return false
	}
	p.seen[id] = struct{}{}
	p.order = append(p.order, id)
	if len(p.order) > seenCapacity {
		delete(p.seen, p.order[0])
		p.order = p.order[1:]
	}
	return true
}
