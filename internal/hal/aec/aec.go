// Package aec implements the automatic exposure control terminator: it
// watches the detector's running dose signal during an exposure and
// fires generator abort once the configured chamber threshold is
// reached. New code in the teacher's handler-registration idiom
// (internal/events/bus.go's subscriber list under one mutex), since
// the teacher carries no AEC equivalent of its own.
package aec

import (
	"context"
	"sync"
	"time"

	"github.com/holee9/hnvue/internal/herrors"
)

// Mode selects whether the generator terminates on elapsed time
// (Manual) or on accumulated chamber dose (Auto).
type Mode int

const (
	ModeManual Mode = iota
	ModeAuto
)

// Aborter is the narrow slice of Generator the controller needs:
// terminate the in-flight exposure. Grounded on generator.Generator's
// own AbortExposure signature so wiring is a direct pass-through.
type Aborter interface {
	AbortExposure(ctx context.Context) error
}

// TerminationHandler is invoked once the controller fires an abort,
// carrying the accumulated chamber reading that triggered it.
type TerminationHandler func(chamberDose float64)

// Controller tracks one exposure's chamber readings and terminates it
// once Auto mode's threshold is crossed. Mode switches are rejected
// while an exposure is in flight, since changing termination strategy
// mid-exposure has no well-defined semantics.
type Controller struct {
	aborter   Aborter
	threshold float64

	mu       sync.Mutex
	mode     Mode
	exposing bool
	handlers []TerminationHandler
}

// New constructs a Controller in Manual mode with the given chamber
// dose threshold (arbitrary units matching the detector's chamber
// signal scale).
func New(aborter Aborter, threshold float64) *Controller {
	return &Controller{aborter: aborter, threshold: threshold, mode: ModeManual}
}

// RegisterTerminationHandler adds h to the set invoked when the
// controller fires an abort.
func (c *Controller) RegisterTerminationHandler(h TerminationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// SetMode switches between Manual and Auto. It is rejected with a
// State error while an exposure is in progress.
func (c *Controller) SetMode(m Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exposing {
		return herrors.New("aec.SetMode", herrors.KindState, nil)
	}
	c.mode = m
	return nil
}

// Mode returns the controller's current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// BeginExposure marks the controller as tracking a live exposure.
// Call before streaming chamber readings via Sample.
func (c *Controller) BeginExposure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposing = true
}

// EndExposure clears the in-flight flag, re-enabling SetMode. Call
// once the generator reports the exposure has ended, by any means.
func (c *Controller) EndExposure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposing = false
}

// Sample feeds one chamber dose reading. In Auto mode, once the
// accumulated reading reaches the threshold, Sample calls
// AbortExposure and returns control to the caller; the handoff from
// threshold-crossed to AbortExposure enqueued is bounded by spec §4.7
// at 5ms, met here by doing no I/O before the call.
func (c *Controller) Sample(ctx context.Context, chamberDose float64) {
	c.mu.Lock()
	mode := c.mode
	exposing := c.exposing
	c.mu.Unlock()

	if mode != ModeAuto || !exposing || chamberDose < c.threshold {
		return
	}

	deadline, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	_ = c.aborter.AbortExposure(deadline)

	c.mu.Lock()
	handlers := append([]TerminationHandler(nil), c.handlers...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(chamberDose)
	}
}
