package game

import (
	"errors"
	"fmt"
)

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhasePlaying Phase = "playing"
	PhaseRugged  Phase = "rugged"
	PhaseWon     Phase = "won"
)

func (p Phase) Terminal() bool {
	return p == PhaseRugged || p == PhaseWon
}

// Warning is set when an active round could not be fully restored.
type Warning string

const (
	WarningNone        Warning = ""
	WarningCashOutOnly Warning = "Session expired but you can cash out your winnings"
	WarningLost        Warning = "Session expired. Game at level 0 cannot be recovered"
)

var ErrInvalidTransition = errors.New("invalid phase transition")

var transitions = map[Phase][]Phase{
	PhaseIdle:    {PhasePlaying},
	PhasePlaying: {PhaseRugged, PhaseWon, PhaseIdle},
	PhaseRugged:  {PhaseIdle},
	PhaseWon:     {PhaseIdle},
}

func canTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

type Door struct {
	Index    int  `json:"index"`
	Revealed bool `json:"isRevealed"`
	Rug      bool `json:"isRug"`
	Selected bool `json:"isSelected"`
}

func newDoors(n int) []Door {
	doors := make([]Door, n)
	for i := range doors {
		doors[i].Index = i
	}
	return doors
}

// State is the client's view of the current round. Only the Engine
// mutates it; callers get copies.
type State struct {
	Phase          Phase   `json:"phase"`
	CurrentLevel   int     `json:"currentLevel"`
	Multiplier     float64 `json:"multiplier"`
	PotentialWin   float64 `json:"potentialWin"`
	BetAmount      float64 `json:"betAmount"`
	Difficulty     int     `json:"difficulty"`
	Doors          []Door  `json:"doors"`
	ServerSeed     string  `json:"serverSeed,omitempty"`
	ClientSeed     string  `json:"clientSeed,omitempty"`
	ServerSeedHash string  `json:"serverSeedHash,omitempty"`
	Payout         float64 `json:"payout,omitempty"`
	Warning        Warning `json:"warning,omitempty"`
	SettledTx      string  `json:"settledTx,omitempty"`
}

func idleState() State {
	return State{Phase: PhaseIdle, Multiplier: 1}
}

func (s State) clone() State {
	c := s
	c.Doors = append([]Door(nil), s.Doors...)
	return c
}

// moveTo is the single place a phase changes.
func (s *State) moveTo(p Phase) error {
	if s.Phase == p {
		return nil
	}
	if !canTransition(s.Phase, p) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Phase, p)
	}
	s.Phase = p
	return nil
}

// reset drops everything about the last round but its phase.
func (s *State) reset() {
	*s = State{Phase: s.Phase, Multiplier: 1}
}

func (s *State) selectedDoor() int {
	for i, d := range s.Doors {
		if d.Selected {
			return i
		}
	}
	return -1
}

// revealRug shows every door and marks the selected one as the rug.
func (s *State) revealRug(rugDoor int) {
	if rugDoor < 0 {
		rugDoor = s.selectedDoor()
	}
	for i := range s.Doors {
		s.Doors[i].Revealed = true
		s.Doors[i].Rug = i == rugDoor
	}
}
