// Package game keeps a provably-fair round consistent between the
// contract, the local seed cache and the server's session store.
package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/decred/slog"

	"rugmania-backend/internal/chain"
	"rugmania-backend/internal/fairness"
	"rugmania-backend/internal/models"
	"rugmania-backend/internal/seedcache"
)

var (
	ErrClosed               = errors.New("engine closed")
	ErrNotPlaying           = errors.New("no round in progress")
	ErrRoundInProgress      = errors.New("round already in progress")
	ErrInvalidBet           = errors.New("bet must be between 0.1 and 10")
	ErrInvalidDifficulty    = errors.New("difficulty must be 3, 4 or 5 doors")
	ErrInvalidDoor          = errors.New("invalid door")
	ErrCannotCashOut        = errors.New("cash out needs at least one cleared level")
	ErrCommitmentMismatch   = errors.New("server seed does not match commitment")
	ErrSessionUnrecoverable = errors.New("server seed unavailable for this round")
	ErrRevealRejected       = errors.New("door reveal rejected")
	ErrNoSession            = errors.New("no authoritative session")
)

// SeedCache is the device-local seed store.
type SeedCache interface {
	Read() (seedcache.Record, bool, error)
	Write(seedcache.Record) error
	Clear() error
	CustomClientSeed() (string, error)
}

// SessionStore is the server-side seed store. GetSession must return an
// error matching apiclient.ErrNotFound, or any error at all, when there is
// nothing usable; the engine only distinguishes "got seeds" from "did not".
type SessionStore interface {
	GetSession(ctx context.Context, address string) (*models.SessionSeeds, error)
	PutSession(ctx context.Context, req models.SaveSessionRequest) error
	DeleteSession(ctx context.Context, address string) (int64, error)
}

type Config struct {
	Player      string
	Contract    chain.Contract
	Cache       SeedCache
	Store       SessionStore
	Settlements SettlementSink
	Log         slog.Logger
}

// Engine owns the round state. Every mutation runs under one mutex, so
// authoritative updates, events and player actions apply one at a time.
type Engine struct {
	player   string
	contract chain.Contract
	cache    SeedCache
	store    SessionStore
	recorder *Recorder
	log      slog.Logger

	closed atomic.Bool

	mu    sync.Mutex
	state State
	seen  map[string]struct{}
}

func NewEngine(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	player := strings.ToLower(cfg.Player)
	return &Engine{
		player:   player,
		contract: cfg.Contract,
		cache:    cfg.Cache,
		store:    cfg.Store,
		recorder: NewRecorder(player, cfg.Settlements, cfg.Store, log),
		log:      log,
		state:    idleState(),
		seen:     make(map[string]struct{}),
	}
}

// Close stops the engine from applying further updates. It does not wait
// for an in-flight action.
func (e *Engine) Close() {
	e.closed.Store(true)
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

func (e *Engine) Recorder() *Recorder {
	return e.recorder
}

// Refresh reads the authoritative session and reconciles against it.
func (e *Engine) Refresh(ctx context.Context) (State, error) {
	sess, err := e.contract.GetGame(ctx, e.player)
	if err != nil {
		return e.State(), fmt.Errorf("read game: %w", err)
	}
	return e.Reconcile(ctx, sess)
}

// Reconcile applies one authoritative session update.
func (e *Engine) Reconcile(ctx context.Context, auth *chain.Session) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return e.state.clone(), ErrClosed
	}
	if auth == nil {
		return e.state.clone(), ErrNoSession
	}

	if e.recorder.Pending() > 0 {
		e.recorder.RetryPending(ctx)
	}

	switch {
	case !auth.IsActive && e.state.Phase == PhasePlaying:
		e.settleInactive()
	case auth.IsActive && e.state.Phase == PhaseIdle:
		e.restore(ctx, auth)
	case auth.IsActive && e.state.Phase == PhasePlaying:
		e.syncLevel(auth)
	}

	return e.state.clone(), nil
}

// settleInactive handles a round the contract already closed without us
// seeing the terminal event.
func (e *Engine) settleInactive() {
	e.clearCache()

	if e.state.selectedDoor() >= 0 {
		if !e.transition(PhaseRugged) {
			return
		}
		e.state.revealRug(-1)
		e.log.Infof("Round closed on chain after a door pick; treating as rugged")
		return
	}
	if e.transition(PhaseIdle) {
		e.state.reset()
	}
}

// restore recovers the server seed for an active round: local cache first,
// then the session store. Each candidate is checked against the contract's
// commitment; a source holding a wrong seed is purged.
func (e *Engine) restore(ctx context.Context, auth *chain.Session) {
	expected := auth.ServerSeedHash.String()

	secret, clientSeed := e.fromCache(expected)
	if secret == "" {
		secret, clientSeed = e.fromStore(ctx, expected)
	}
	if clientSeed == "" && !auth.ClientSeed.IsZero() {
		clientSeed = auth.ClientSeed.String()
	}

	bet := auth.BetEther()
	mult := auth.MultiplierValue()
	if mult <= 0 {
		mult = models.Multiplier(auth.DoorsPerLevel, auth.CurrentLevel)
	}

	e.state = State{
		Phase:          e.state.Phase,
		CurrentLevel:   auth.CurrentLevel,
		Multiplier:     mult,
		PotentialWin:   models.CalculatePayout(bet, mult),
		BetAmount:      bet,
		Difficulty:     auth.DoorsPerLevel,
		Doors:          newDoors(auth.DoorsPerLevel),
		ServerSeed:     secret,
		ClientSeed:     clientSeed,
		ServerSeedHash: expected,
	}
	if !e.transition(PhasePlaying) {
		return
	}

	if secret != "" {
		e.log.Infof("Restored round at level %d", auth.CurrentLevel)
		return
	}
	if auth.CurrentLevel >= 1 {
		e.state.Warning = WarningCashOutOnly
	} else {
		e.state.Warning = WarningLost
	}
	e.log.Warnf("Could not restore server seed at level %d", auth.CurrentLevel)
}

func (e *Engine) fromCache(expected string) (secret, clientSeed string) {
	if e.cache == nil {
		return "", ""
	}
	rec, ok, err := e.cache.Read()
	if err != nil {
		e.log.Warnf("Seed cache unreadable: %v", err)
		return "", ""
	}
	if !ok {
		return "", ""
	}
	seed := withPrefix(rec.ServerSeed)
	if !fairness.Verify(seed, expected) {
		e.log.Warnf("Cached server seed does not match the contract; purging")
		e.clearCache()
		return "", ""
	}
	return seed, rec.ClientSeed
}

func (e *Engine) fromStore(ctx context.Context, expected string) (secret, clientSeed string) {
	if e.store == nil {
		return "", ""
	}
	seeds, err := e.store.GetSession(ctx, e.player)
	if err != nil {
		e.log.Debugf("No stored session: %v", err)
		return "", ""
	}
	seed := withPrefix(seeds.ServerSeed)
	if !fairness.Verify(seed, expected) {
		e.log.Warnf("Stored server seed does not match the contract; purging")
		if _, err := e.store.DeleteSession(ctx, e.player); err != nil {
			e.log.Warnf("Purging stored session failed: %v", err)
		}
		return "", ""
	}

	if seeds.ClientSeed != nil {
		clientSeed = *seeds.ClientSeed
	}
	if e.cache != nil {
		rec := seedcache.Record{ServerSeed: seed, ClientSeed: clientSeed, ServerSeedHash: expected}
		if err := e.cache.Write(rec); err != nil {
			e.log.Warnf("Caching restored seed failed: %v", err)
		}
	}
	return seed, clientSeed
}

func (e *Engine) syncLevel(auth *chain.Session) {
	if auth.CurrentLevel <= e.state.CurrentLevel {
		return
	}
	e.setLevel(auth.CurrentLevel)
	e.state.Doors = newDoors(e.state.Difficulty)
}

func (e *Engine) setLevel(level int) {
	e.state.CurrentLevel = level
	e.state.Multiplier = models.Multiplier(e.state.Difficulty, level)
	e.state.PotentialWin = models.CalculatePayout(e.state.BetAmount, e.state.Multiplier)
}

// StartGame commits to a fresh server seed and places the bet. The seeds
// are cached only once the bet is mined; a failed bet leaves the cache
// empty.
func (e *Engine) StartGame(ctx context.Context, betAmount float64, doors int) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return e.state.clone(), ErrClosed
	}
	if e.state.Phase != PhaseIdle {
		return e.state.clone(), ErrRoundInProgress
	}
	if math.IsNaN(betAmount) || betAmount < models.MinBet || betAmount > models.MaxBet {
		return e.state.clone(), ErrInvalidBet
	}
	if !models.Difficulty(doors).Valid() {
		return e.state.clone(), ErrInvalidDifficulty
	}

	secret, err := fairness.GenerateSeed()
	if err != nil {
		return e.state.clone(), err
	}
	clientSeed, err := e.clientSeed()
	if err != nil {
		return e.state.clone(), err
	}
	commitment := fairness.Commit(secret)

	rcpt, err := e.contract.PlaceBet(ctx, doors, clientSeed, commitment, models.EtherToWei(betAmount))
	if err != nil {
		e.clearCache()
		return e.state.clone(), fmt.Errorf("place bet: %w", err)
	}

	rec := seedcache.Record{
		ServerSeed:     secret.String(),
		ClientSeed:     clientSeed.String(),
		ServerSeedHash: commitment.String(),
	}
	if e.cache != nil {
		if err := e.cache.Write(rec); err != nil {
			e.log.Warnf("Caching seeds failed: %v", err)
		}
	}
	if e.store != nil {
		err := e.store.PutSession(ctx, models.SaveSessionRequest{
			PlayerAddress:  e.player,
			ServerSeed:     rec.ServerSeed,
			ServerSeedHash: rec.ServerSeedHash,
			ClientSeed:     rec.ClientSeed,
			BetAmount:      betAmount,
			Difficulty:     doors,
		})
		if err != nil {
			e.log.Warnf("Storing session on server failed: %v", err)
		}
	}

	e.state = State{
		Phase:          e.state.Phase,
		Multiplier:     1,
		PotentialWin:   betAmount,
		BetAmount:      betAmount,
		Difficulty:     doors,
		Doors:          newDoors(doors),
		ServerSeed:     rec.ServerSeed,
		ClientSeed:     rec.ClientSeed,
		ServerSeedHash: rec.ServerSeedHash,
	}
	e.transition(PhasePlaying)
	e.log.Infof("Bet of %.4f placed in %s", betAmount, rcpt.TxHash)

	e.applyAll(ctx, rcpt.Events)
	return e.state.clone(), nil
}

func (e *Engine) clientSeed() (fairness.Seed, error) {
	if e.cache != nil {
		if custom, err := e.cache.CustomClientSeed(); err == nil && fairness.IsSeedHex(custom) {
			return fairness.ParseSeed(custom)
		}
	}
	return fairness.GenerateSeed()
}

// SelectDoor reveals the server seed to open a door. The seed is checked
// against the round's commitment first; a failed check sends nothing.
func (e *Engine) SelectDoor(ctx context.Context, door int) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return e.state.clone(), ErrClosed
	}
	if e.state.Phase != PhasePlaying {
		return e.state.clone(), ErrNotPlaying
	}
	if door < 0 || door >= len(e.state.Doors) || e.state.Doors[door].Revealed {
		return e.state.clone(), ErrInvalidDoor
	}

	raw := e.state.ServerSeed
	if raw == "" && e.cache != nil {
		if rec, ok, _ := e.cache.Read(); ok {
			raw = rec.ServerSeed
		}
	}
	if raw == "" {
		return e.state.clone(), ErrSessionUnrecoverable
	}
	secret, err := fairness.ParseSeed(withPrefix(raw))
	if err != nil {
		return e.state.clone(), fmt.Errorf("%w: %v", ErrCommitmentMismatch, err)
	}
	if !fairness.Verify(secret.String(), e.state.ServerSeedHash) {
		return e.state.clone(), ErrCommitmentMismatch
	}
	if e.state.ServerSeed == "" {
		e.state.ServerSeed = secret.String()
		e.state.Warning = WarningNone
	}

	e.state.Doors[door].Selected = true

	rcpt, err := e.contract.SelectDoor(ctx, door, secret)
	if err != nil {
		for i := range e.state.Doors {
			e.state.Doors[i].Selected = false
		}
		return e.state.clone(), fmt.Errorf("%w: %v", ErrRevealRejected, err)
	}

	e.applyAll(ctx, rcpt.Events)
	return e.state.clone(), nil
}

// CashOut settles the round at the current level.
func (e *Engine) CashOut(ctx context.Context) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return e.state.clone(), ErrClosed
	}
	if e.state.Phase != PhasePlaying {
		return e.state.clone(), ErrNotPlaying
	}
	if e.state.CurrentLevel < 1 {
		return e.state.clone(), ErrCannotCashOut
	}

	rcpt, err := e.contract.CashOut(ctx)
	if err != nil {
		return e.state.clone(), fmt.Errorf("cash out: %w", err)
	}

	e.applyAll(ctx, rcpt.Events)
	if e.state.Phase == PhasePlaying {
		// Mined without a decodable CashOut log; settle on what we know.
		e.win(ctx, e.state.PotentialWin, rcpt.TxHash)
	}
	return e.state.clone(), nil
}

// PlayAgain leaves a finished round.
func (e *Engine) PlayAgain() (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return e.state.clone(), ErrClosed
	}
	if e.state.Phase == PhasePlaying {
		return e.state.clone(), ErrRoundInProgress
	}
	e.clearCache()
	if e.transition(PhaseIdle) {
		e.state.reset()
	}
	return e.state.clone(), nil
}

// HandleEvent applies a contract event. Events for other players and
// events already applied are ignored.
func (e *Engine) HandleEvent(ctx context.Context, ev chain.Event) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed.Load() {
		return e.state.clone()
	}
	e.apply(ctx, ev)
	return e.state.clone()
}

func (e *Engine) applyAll(ctx context.Context, events []chain.Event) {
	for _, ev := range events {
		e.apply(ctx, ev)
	}
}

func (e *Engine) apply(ctx context.Context, ev chain.Event) {
	meta := ev.Meta()
	if meta.Player != e.player {
		return
	}
	if _, dup := e.seen[meta.ID()]; dup {
		return
	}
	e.seen[meta.ID()] = struct{}{}

	switch ev := ev.(type) {
	case chain.BetPlaced:
		if e.state.Phase == PhasePlaying {
			e.state.BetAmount = models.WeiToEther(ev.Amount)
			e.state.Difficulty = ev.Doors
			e.state.PotentialWin = models.CalculatePayout(e.state.BetAmount, e.state.Multiplier)
		}

	case chain.DoorResolved:
		if e.state.Phase != PhasePlaying {
			return
		}
		if !ev.Survived {
			if e.transition(PhaseRugged) {
				e.state.revealRug(-1)
			}
			return
		}
		e.setLevel(ev.Level)
		e.state.Doors = newDoors(e.state.Difficulty)

	case chain.Rugged:
		if e.state.Phase == PhasePlaying && e.transition(PhaseRugged) {
			e.state.revealRug(-1)
		}
		if e.state.Phase == PhaseRugged {
			e.settle(ctx, false, 0, meta.TxHash)
		}

	case chain.CashedOut:
		e.win(ctx, models.WeiToEther(ev.Payout), meta.TxHash)

	case chain.MaxLevelReached:
		e.win(ctx, models.WeiToEther(ev.Payout), meta.TxHash)
	}
}

func (e *Engine) win(ctx context.Context, payout float64, txRef string) {
	if e.state.Phase == PhasePlaying && e.transition(PhaseWon) {
		e.state.Payout = payout
	}
	if e.state.Phase == PhaseWon {
		e.settle(ctx, true, e.state.Payout, txRef)
	}
}

func (e *Engine) settle(ctx context.Context, won bool, payout float64, txRef string) {
	if e.state.SettledTx != "" {
		return
	}
	e.state.SettledTx = txRef
	if err := e.recorder.Record(ctx, won, e.state.BetAmount, payout, txRef, e.state.ServerSeedHash); err != nil {
		e.log.Warnf("Settlement %s not recorded yet: %v", txRef, err)
	}
}

// transition moves the round to p, logging a move the phase graph does not
// allow.
func (e *Engine) transition(p Phase) bool {
	if err := e.state.moveTo(p); err != nil {
		e.log.Errorf("Round state: %v", err)
		return false
	}
	return true
}

func (e *Engine) clearCache() {
	if e.cache == nil {
		return
	}
	if err := e.cache.Clear(); err != nil {
		e.log.Warnf("Clearing seed cache failed: %v", err)
	}
}

func withPrefix(seed string) string {
	if seed == "" || strings.HasPrefix(seed, "0x") || strings.HasPrefix(seed, "0X") {
		return seed
	}
	return "0x" + seed
}
