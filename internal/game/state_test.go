package game

import (
	"errors"
	"testing"
)

func TestPhaseTransitions(t *testing.T) {
	allowed := map[[2]Phase]bool{
		{PhaseIdle, PhasePlaying}:   true,
		{PhasePlaying, PhaseRugged}: true,
		{PhasePlaying, PhaseWon}:    true,
		{PhasePlaying, PhaseIdle}:   true,
		{PhaseRugged, PhaseIdle}:    true,
		{PhaseWon, PhaseIdle}:       true,
	}
	phases := []Phase{PhaseIdle, PhasePlaying, PhaseRugged, PhaseWon}

	for _, from := range phases {
		for _, to := range phases {
			s := State{Phase: from}
			err := s.moveTo(to)
			switch {
			case from == to:
				if err != nil {
					t.Errorf("%s -> %s: staying put should be a no-op, got %v", from, to, err)
				}
			case allowed[[2]Phase{from, to}]:
				if err != nil || s.Phase != to {
					t.Errorf("%s -> %s: expected allowed, got %v", from, to, err)
				}
			default:
				if !errors.Is(err, ErrInvalidTransition) || s.Phase != from {
					t.Errorf("%s -> %s: expected rejection, got %v", from, to, err)
				}
			}
		}
	}
}

func TestRevealRug(t *testing.T) {
	s := State{Doors: newDoors(4)}
	s.Doors[2].Selected = true
	s.revealRug(-1)
	for i, d := range s.Doors {
		if !d.Revealed || d.Rug != (i == 2) {
			t.Errorf("door %d: %+v", i, d)
		}
	}
}

func TestEngineTransitionRefusesInvalidMove(t *testing.T) {
	e := NewEngine(Config{Player: "0x00000000000000000000000000000000000000aa"})
	e.state.Phase = PhaseWon
	e.state.Payout = 2

	if e.transition(PhaseRugged) {
		t.Fatal("won -> rugged should be refused")
	}
	if e.state.Phase != PhaseWon || e.state.Payout != 2 {
		t.Errorf("refused move changed the round: %+v", e.state)
	}

	if !e.transition(PhaseIdle) {
		t.Fatal("won -> idle should be allowed")
	}
	e.state.reset()
	if e.state.Phase != PhaseIdle || e.state.Payout != 0 || e.state.Multiplier != 1 {
		t.Errorf("reset left %+v", e.state)
	}
}
