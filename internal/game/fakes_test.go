package game_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"rugmania-backend/internal/apiclient"
	"rugmania-backend/internal/chain"
	"rugmania-backend/internal/fairness"
	"rugmania-backend/internal/models"
	"rugmania-backend/internal/seedcache"
)

const player = "0x00000000000000000000000000000000000000aa"

// fakeContract behaves like the RugMania contract for one player.
type fakeContract struct {
	mu sync.Mutex

	session  chain.Session
	txs      int
	rugDoor  int
	betErr   error
	revealFn func(door int, secret fairness.Seed) error
	silent   bool // mined without emitting events

	onPlaceBet func()
	doorCalls  int
}

func newFakeContract() *fakeContract {
	return &fakeContract{rugDoor: -1}
}

func (f *fakeContract) nextTx() string {
	f.txs++
	return fmt.Sprintf("0x%064x", f.txs)
}

func (f *fakeContract) meta(tx string, idx uint) chain.Meta {
	return chain.Meta{Player: player, TxHash: tx, LogIndex: idx}
}

func (f *fakeContract) GetGame(context.Context, string) (*chain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.session
	return &s, nil
}

func (f *fakeContract) PlaceBet(_ context.Context, doors int, clientSeed fairness.Seed, commitment fairness.Hash, value *big.Int) (*chain.Receipt, error) {
	if f.onPlaceBet != nil {
		f.onPlaceBet()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.betErr != nil {
		return nil, f.betErr
	}
	f.session = chain.Session{
		IsActive:       true,
		BetAmount:      value,
		DoorsPerLevel:  doors,
		ServerSeedHash: commitment,
		ClientSeed:     clientSeed,
		Multiplier:     new(big.Int).Set(models.WeiPerEther),
	}
	tx := f.nextTx()
	if f.silent {
		return &chain.Receipt{TxHash: tx}, nil
	}
	return &chain.Receipt{TxHash: tx, Events: []chain.Event{
		chain.BetPlaced{Info: f.meta(tx, 0), Amount: value, Doors: doors},
	}}, nil
}

func (f *fakeContract) SelectDoor(_ context.Context, door int, secret fairness.Seed) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doorCalls++
	if f.revealFn != nil {
		if err := f.revealFn(door, secret); err != nil {
			return nil, err
		}
	}
	if !f.session.IsActive {
		return nil, errors.New("execution reverted: no active game")
	}
	if !fairness.VerifySeed(secret, f.session.ServerSeedHash) {
		return nil, errors.New("execution reverted: invalid server seed")
	}
	tx := f.nextTx()
	if f.silent {
		return &chain.Receipt{TxHash: tx}, nil
	}
	if door == f.rugDoor {
		level := f.session.CurrentLevel
		f.session.IsActive = false
		return &chain.Receipt{TxHash: tx, Events: []chain.Event{
			chain.DoorResolved{Info: f.meta(tx, 0), Door: door, Survived: false, Level: level},
			chain.Rugged{Info: f.meta(tx, 1), Level: level, RugDoor: door},
		}}, nil
	}
	f.session.CurrentLevel++
	return &chain.Receipt{TxHash: tx, Events: []chain.Event{
		chain.DoorResolved{Info: f.meta(tx, 0), Door: door, Survived: true, Level: f.session.CurrentLevel},
	}}, nil
}

func (f *fakeContract) CashOut(context.Context) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.session.IsActive || f.session.CurrentLevel < 1 {
		return nil, errors.New("execution reverted: cannot cash out")
	}
	f.session.IsActive = false
	tx := f.nextTx()
	mult := models.Multiplier(f.session.DoorsPerLevel, f.session.CurrentLevel)
	payout := models.EtherToWei(models.WeiToEther(f.session.BetAmount) * mult)
	return &chain.Receipt{TxHash: tx, Events: []chain.Event{
		chain.CashedOut{Info: f.meta(tx, 0), Payout: payout, Level: f.session.CurrentLevel},
	}}, nil
}

// fakeStore is the server Session Store as seen through the API client.
type fakeStore struct {
	mu       sync.Mutex
	t        *testing.T
	sessions map[string]models.SaveSessionRequest
	getErr   error
	mustSkip bool // fail the test if GetSession is consulted
	gets     int
	deletes  int
	log      *[]string
}

func newFakeStore(t *testing.T) *fakeStore {
	return &fakeStore{t: t, sessions: map[string]models.SaveSessionRequest{}}
}

func (s *fakeStore) GetSession(_ context.Context, address string) (*models.SessionSeeds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mustSkip {
		s.t.Errorf("session store consulted although the local seed verified")
	}
	s.gets++
	if s.getErr != nil {
		return nil, s.getErr
	}
	req, ok := s.sessions[strings.ToLower(address)]
	if !ok {
		return nil, &apiclient.Error{Status: 404, Code: "NOT_FOUND"}
	}
	out := &models.SessionSeeds{ServerSeed: req.ServerSeed, ServerSeedHash: req.ServerSeedHash}
	if req.ClientSeed != "" {
		cs := req.ClientSeed
		out.ClientSeed = &cs
	}
	return out, nil
}

func (s *fakeStore) PutSession(_ context.Context, req models.SaveSessionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[strings.ToLower(req.PlayerAddress)] = req
	return nil
}

func (s *fakeStore) DeleteSession(_ context.Context, address string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.log != nil {
		*s.log = append(*s.log, "delete")
	}
	if _, ok := s.sessions[strings.ToLower(address)]; !ok {
		return 0, nil
	}
	delete(s.sessions, strings.ToLower(address))
	return 1, nil
}

type fakeSink struct {
	mu   sync.Mutex
	reqs []models.SettlementRequest
	seen map[string]bool
	err  error
	log  *[]string
}

func newFakeSink() *fakeSink {
	return &fakeSink{seen: map[string]bool{}}
}

func (s *fakeSink) RecordSettlement(_ context.Context, req models.SettlementRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log != nil {
		*s.log = append(*s.log, "record")
	}
	if s.err != nil {
		return false, s.err
	}
	s.reqs = append(s.reqs, req)
	dup := s.seen[req.TxRef]
	s.seen[req.TxRef] = true
	return dup, nil
}

func cacheWith(t *testing.T, rec seedcache.Record) *seedcache.Memory {
	t.Helper()
	c := seedcache.NewMemory()
	if err := c.Write(rec); err != nil {
		t.Fatal(err)
	}
	return c
}

func mustSeed(t *testing.T) fairness.Seed {
	t.Helper()
	s, err := fairness.GenerateSeed()
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func activeSession(secret fairness.Seed, level, doors int) *chain.Session {
	return &chain.Session{
		IsActive:       true,
		CurrentLevel:   level,
		BetAmount:      models.EtherToWei(1),
		DoorsPerLevel:  doors,
		ServerSeedHash: fairness.Commit(secret),
		Multiplier:     models.EtherToWei(models.Multiplier(doors, level)),
	}
}

func fakeSaved(secret fairness.Seed) models.SaveSessionRequest {
	return models.SaveSessionRequest{
		PlayerAddress:  player,
		ServerSeed:     secret.String(),
		ServerSeedHash: fairness.Commit(secret).String(),
		BetAmount:      1,
		Difficulty:     5,
	}
}
