// Package interlock implements the safety interlock aggregator: a
// single atomic 9-bit snapshot of the interlock chain. Grounded on the
// teacher's circuitbreaker package's single critical-section state
// snapshot pattern (currentState under one mutex), applied here to the
// interlock bit-tuple instead of breaker state.
package interlock

import (
	"context"
	"sync"
	"time"
)

// Index identifies one of the nine interlock bits.
type Index int

const (
	DoorClosed Index = iota
	EmergencyStopClear
	ThermalNormal
	GeneratorReady
	DetectorReady
	CollimatorValid
	TableLocked
	DoseWithinLimits
	AECConfigured
	bitCount
)

// Status is the fixed 9-tuple snapshot plus its aggregate and
// timestamp.
type Status struct {
	DoorClosed          bool
	EmergencyStopClear  bool
	ThermalNormal       bool
	GeneratorReady      bool
	DetectorReady       bool
	CollimatorValid     bool
	TableLocked         bool
	DoseWithinLimits    bool
	AECConfigured       bool
	AllPassed           bool
	TimestampMicros     int64
}

func (s *Status) bit(i Index) bool {
	switch i {
	case DoorClosed:
		return s.DoorClosed
	case EmergencyStopClear:
		return s.EmergencyStopClear
	case ThermalNormal:
		return s.ThermalNormal
	case GeneratorReady:
		return s.GeneratorReady
	case DetectorReady:
		return s.DetectorReady
	case CollimatorValid:
		return s.CollimatorValid
	case TableLocked:
		return s.TableLocked
	case DoseWithinLimits:
		return s.DoseWithinLimits
	case AECConfigured:
		return s.AECConfigured
	default:
		return false
	}
}

func (s *Status) setBit(i Index, v bool) {
	switch i {
	case DoorClosed:
		s.DoorClosed = v
	case EmergencyStopClear:
		s.EmergencyStopClear = v
	case ThermalNormal:
		s.ThermalNormal = v
	case GeneratorReady:
		s.GeneratorReady = v
	case DetectorReady:
		s.DetectorReady = v
	case CollimatorValid:
		s.CollimatorValid = v
	case TableLocked:
		s.TableLocked = v
	case DoseWithinLimits:
		s.DoseWithinLimits = v
	case AECConfigured:
		s.AECConfigured = v
	}
}

func (s *Status) recomputeAggregate() {
	s.AllPassed = s.DoorClosed && s.EmergencyStopClear && s.ThermalNormal &&
		s.GeneratorReady && s.DetectorReady && s.CollimatorValid &&
		s.TableLocked && s.DoseWithinLimits && s.AECConfigured
}

// ChangeHandler is invoked within 50ms of any bit flipping, receiving
// the full status so it can react to combinations.
type ChangeHandler func(Status)

// Aggregator owns the interlock bit-tuple behind one critical section
// so check_all always observes a consistent snapshot — all nine bits
// read under the same lock, never a partial update.
type Aggregator struct {
	mu       sync.RWMutex
	status   Status
	handlers []ChangeHandler

	standbyMu  sync.Mutex
	inStandby  bool
	onStandby  func(context.Context) error // disarm generator / stop detector
	journal    func(context.Context) error // write safety journal entry
}

// New constructs an Aggregator with every bit false until set.
func New(onStandby func(context.Context) error, journal func(context.Context) error) *Aggregator {
	return &Aggregator{onStandby: onStandby, journal: journal}
}

// Set updates one bit, recomputes the aggregate, and notifies change
// handlers if the bit actually flipped.
func (a *Aggregator) Set(i Index, v bool) {
	a.mu.Lock()
	if a.status.bit(i) == v {
		a.mu.Unlock()
		return
	}
	a.status.setBit(i, v)
	a.status.recomputeAggregate()
	a.status.TimestampMicros = time.Now().UnixMicro()
	snap := a.status
	handlers := append([]ChangeHandler(nil), a.handlers...)
	a.mu.Unlock()

	for _, h := range handlers {
		h(snap)
	}
}

// CheckAll returns a consistent snapshot of all nine bits, read under
// one critical section.
func (a *Aggregator) CheckAll(_ context.Context) (Status, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status, nil
}

// CheckOne returns the current value of a single bit.
func (a *Aggregator) CheckOne(i Index) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status.bit(i)
}

// RegisterChangeHandler adds h to the set invoked on every bit flip.
func (a *Aggregator) RegisterChangeHandler(h ChangeHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, h)
}

// EmergencyStandby disarms the generator, stops the detector, and
// writes a safety journal entry. It is idempotent: invoking it twice
// does not corrupt state — the second call is a no-op.
func (a *Aggregator) EmergencyStandby(ctx context.Context) error {
	a.standbyMu.Lock()
	defer a.standbyMu.Unlock()
	if a.inStandby {
		return nil
	}
	a.inStandby = true

	if a.onStandby != nil {
		if err := a.onStandby(ctx); err != nil {
			return err
		}
	}
	if a.journal != nil {
		if err := a.journal(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ResetStandby clears the idempotency latch, allowing a later
// EmergencyStandby call to run its side effects again. Used once the
// operator has cleared the condition that triggered standby.
func (a *Aggregator) ResetStandby() {
	a.standbyMu.Lock()
	defer a.standbyMu.Unlock()
	a.inStandby = false
}

// GeneratorChecker adapts an Aggregator to generator.InterlockChecker's
// narrower CheckAll(ctx) (bool, error) shape, so the generator package
// never needs to know about the nine-bit Status structure.
type GeneratorChecker struct {
	Agg *Aggregator
}

func (g GeneratorChecker) CheckAll(ctx context.Context) (bool, error) {
	status, err := g.Agg.CheckAll(ctx)
	if err != nil {
		return false, err
	}
	return status.AllPassed, nil
}
