// Package ledger is the authoritative in-process record of the synthetic
// spread position. Only the cycle that owns the transition mutates it, and
// only after the venue confirms the underlying execution.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"spreadbot-go/internal/signal"
)

// State is the position state machine's current node.
type State int

const (
	Flat State = iota
	LongSpread
	ShortSpread
)

func (s State) String() string {
	switch s {
	case LongSpread:
		return "LONG_SPREAD"
	case ShortSpread:
		return "SHORT_SPREAD"
	default:
		return "FLAT"
	}
}

// StateForSignal maps a signal to the state holding it.
func StateForSignal(sig signal.Signal) State {
	switch sig {
	case signal.Long:
		return LongSpread
	case signal.Short:
		return ShortSpread
	default:
		return Flat
	}
}

// Leg is one instrument's signed quantity within the position.
type Leg struct {
	Instrument string
	Qty        float64
}

// Position is the full synthetic position. A flat position has both leg
// quantities at zero; an open position has legA signed with the signal and
// legB against it.
type Position struct {
	LegA     Leg
	LegB     Leg
	Signal   signal.Signal
	OpenedAt time.Time
}

// Ledger guards the position for cross-goroutine reads (the shutdown path
// inspects it while the scheduler owns mutation).
type Ledger struct {
	mu  sync.Mutex
	pos Position
}

// New starts flat; reconciliation overwrites this before trading begins.
func New(instrumentA, instrumentB string) *Ledger {
	return &Ledger{pos: Position{
		LegA:   Leg{Instrument: instrumentA},
		LegB:   Leg{Instrument: instrumentB},
		Signal: signal.Flat,
	}}
}

// Snapshot returns a copy of the position.
func (l *Ledger) Snapshot() Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos
}

// Signal returns the signal the current position encodes.
func (l *Ledger) Signal() signal.Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pos.Signal
}

// State returns the state machine node for the current position.
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return StateForSignal(l.pos.Signal)
}

// ApplyOpen records a confirmed open. The ledger must be flat, the signal
// directional, and the leg signs must match the signal convention
// (sign(legA) == signal, sign(legB) == -signal).
func (l *Ledger) ApplyOpen(legA, legB Leg, sig signal.Signal, at time.Time) error {
	if sig == signal.Flat {
		return fmt.Errorf("cannot open a flat position")
	}
	if !sameSign(legA.Qty, float64(sig)) || !sameSign(legB.Qty, -float64(sig)) {
		return fmt.Errorf("leg signs inconsistent with signal %s: legA=%.6f legB=%.6f", sig, legA.Qty, legB.Qty)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pos.Signal != signal.Flat {
		return fmt.Errorf("open from %s: position already held", StateForSignal(l.pos.Signal))
	}
	l.pos = Position{LegA: legA, LegB: legB, Signal: sig, OpenedAt: at}
	return nil
}

// ApplyClose records a confirmed full close, returning the ledger to flat.
func (l *Ledger) ApplyClose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pos = Position{
		LegA:   Leg{Instrument: l.pos.LegA.Instrument},
		LegB:   Leg{Instrument: l.pos.LegB.Instrument},
		Signal: signal.Flat,
	}
}

// Overwrite replaces the position wholesale with venue truth. Reconciliation
// only.
func (l *Ledger) Overwrite(pos Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pos = pos
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
