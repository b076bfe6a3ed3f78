package game

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/decred/slog"

	"rugmania-backend/internal/models"
)

// SettlementSink is where finished rounds are reported.
type SettlementSink interface {
	RecordSettlement(ctx context.Context, req models.SettlementRequest) (duplicate bool, err error)
}

// Recorder reports each settled round once and then drops the player's
// stored session if it still belongs to that round. A round whose report
// failed is kept and retried.
type Recorder struct {
	player string
	sink   SettlementSink
	store  SessionStore
	log    slog.Logger

	mu       sync.Mutex
	recorded map[string]struct{}
	pending  map[string]report
}

// report is a settlement together with the commitment of the round it
// closed.
type report struct {
	req            models.SettlementRequest
	serverSeedHash string
}

func NewRecorder(player string, sink SettlementSink, store SessionStore, log slog.Logger) *Recorder {
	if log == nil {
		log = slog.Disabled
	}
	return &Recorder{
		player:   strings.ToLower(player),
		sink:     sink,
		store:    store,
		log:      log,
		recorded: make(map[string]struct{}),
		pending:  make(map[string]report),
	}
}

// Record reports the outcome settled by txRef for the round committed to
// serverSeedHash. Repeat calls for the same txRef are no-ops. The stored
// session is deleted only after the report is accepted.
func (r *Recorder) Record(ctx context.Context, won bool, betAmount, payout float64, txRef, serverSeedHash string) error {
	if txRef == "" {
		return errors.New("settlement without txRef")
	}
	key := strings.ToLower(txRef)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.recorded[key]; done {
		return nil
	}

	rep := report{
		req: models.SettlementRequest{
			Player:    r.player,
			Won:       won,
			BetAmount: betAmount,
			Payout:    payout,
			TxRef:     key,
		},
		serverSeedHash: serverSeedHash,
	}
	return r.send(ctx, key, rep)
}

func (r *Recorder) send(ctx context.Context, key string, rep report) error {
	if r.sink == nil {
		return errors.New("no settlement sink")
	}

	req := rep.req
	dup, err := r.sink.RecordSettlement(ctx, req)
	if err != nil {
		r.pending[key] = rep
		r.log.Warnf("Recording settlement %s failed, will retry: %v", req.TxRef, err)
		return err
	}
	delete(r.pending, key)
	r.recorded[key] = struct{}{}
	if dup {
		r.log.Debugf("Settlement %s was already recorded", req.TxRef)
	} else {
		r.log.Infof("Recorded %s settlement %s", outcome(req.Won), req.TxRef)
	}

	r.dropSession(ctx, rep)
	return nil
}

// dropSession deletes the stored session unless it has been replaced by a
// later round's.
func (r *Recorder) dropSession(ctx context.Context, rep report) {
	if r.store == nil {
		return
	}
	if rep.serverSeedHash != "" {
		seeds, err := r.store.GetSession(ctx, r.player)
		if err != nil {
			r.log.Debugf("No stored session to drop after %s: %v", rep.req.TxRef, err)
			return
		}
		if !strings.EqualFold(seeds.ServerSeedHash, rep.serverSeedHash) {
			r.log.Debugf("Stored session belongs to a later round; keeping it")
			return
		}
	}
	if _, err := r.store.DeleteSession(ctx, r.player); err != nil {
		r.log.Warnf("Deleting stored session after %s failed: %v", rep.req.TxRef, err)
	}
}

// RetryPending resends every report that failed earlier.
func (r *Recorder) RetryPending(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.pending))
	for k := range r.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var firstErr error
	for _, k := range keys {
		if err := r.send(ctx, k, r.pending[k]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func outcome(won bool) string {
	if won {
		return "won"
	}
	return "lost"
}
