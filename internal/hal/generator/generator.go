// Package generator owns the high-voltage generator (HVG) transport,
// the command queue that serializes commands to it, and the exposure
// sequence. Grounded on the teacher's internal/circuitbreaker package
// for the retry/backoff wrapped around each transport command, and on
// the direwolf transmit-queue shape (single dispatcher goroutine,
// priority queue, condition-variable wakeup) retrieved in
// other_examples for the command queue itself.
package generator

import (
	"context"
	"sync"
	"time"

	"github.com/holee9/hnvue/internal/herrors"
)

// State is the generator's own state machine, independent of the
// clinical workflow state machine.
type State int

const (
	GenIdle State = iota
	GenReady
	GenArmed
	GenExposing
	GenError
)

func (s State) String() string {
	switch s {
	case GenReady:
		return "Ready"
	case GenArmed:
		return "Armed"
	case GenExposing:
		return "Exposing"
	case GenError:
		return "Error"
	default:
		return "Idle"
	}
}

// AECMode selects manual or automatic exposure termination.
type AECMode int

const (
	Manual AECMode = iota
	Auto
)

// ExposureParams are the requested exposure settings.
type ExposureParams struct {
	KVp     float64
	MA      float64
	MS      float64
	Mode    AECMode
	Focus   string
}

// MAs returns the derived mAs = kVp·mA·ms/1000 product. The spec keeps
// this explicit because it is the safety-enforceable field.
func (p ExposureParams) MAs() float64 {
	return p.KVp * p.MA * p.MS / 1000
}

// Capabilities bounds what a given device variant accepts.
type Capabilities struct {
	KVpRange   [2]float64
	MARange    [2]float64
	MSRange    [2]float64
	MaxMAs     float64
}

// Validate rejects params outside capabilities' ranges or whose
// derived mAs exceeds the device safety limit.
func (c Capabilities) Validate(p ExposureParams) error {
	if p.KVp < c.KVpRange[0] || p.KVp > c.KVpRange[1] {
		return herrors.New("generator.Validate", herrors.KindParam, nil)
	}
	if p.MA < c.MARange[0] || p.MA > c.MARange[1] {
		return herrors.New("generator.Validate", herrors.KindParam, nil)
	}
	if p.MS < c.MSRange[0] || p.MS > c.MSRange[1] {
		return herrors.New("generator.Validate", herrors.KindParam, nil)
	}
	if c.MaxMAs > 0 && p.MAs() > c.MaxMAs {
		return herrors.New("generator.Validate", herrors.KindParam, nil)
	}
	return nil
}

// DefaultCapabilities mirrors spec §3's ranges: kVp∈[40,150],
// mA∈[0.1,1000], ms∈[1,10000].
func DefaultCapabilities() Capabilities {
	return Capabilities{
		KVpRange: [2]float64{40, 150},
		MARange:  [2]float64{0.1, 1000},
		MSRange:  [2]float64{1, 10000},
		MaxMAs:   600,
	}
}

// ExposureResult is returned by StartExposure.
type ExposureResult struct {
	Success   bool
	ActualKVp float64
	ActualMA  float64
	ActualMS  float64
	ActualMAs float64
	Aborted   bool
	Err       error
}

// StatusSnapshot is published to status handlers on each generator
// state change; there is no periodic publication between changes.
type StatusSnapshot struct {
	State     State
	Timestamp time.Time
}

// AlarmHandler and StatusHandler are registered callbacks. Both are
// owned by the generator; there is no unregister operation, so a
// registered handler stays in place for the generator's lifetime.
type AlarmHandler func(code string, detail string)
type StatusHandler func(StatusSnapshot)

// InterlockChecker is consulted before every StartExposure, per spec
// §4.3 step 3. It is satisfied by hal/interlock.Aggregator.
type InterlockChecker interface {
	CheckAll(ctx context.Context) (allPassed bool, err error)
}

// Transport is the underlying HVG link: serial, Ethernet, or a
// simulator. Send blocks until the device acknowledges or the command
// times out; it never blocks under the Generator's own lock.
type Transport interface {
	Send(ctx context.Context, cmd Command) (Reply, error)
}

// Command is a single HVG protocol command.
type Command struct {
	Kind    string
	Payload ExposureParams
	IsAbort bool
}

// Reply is the transport's response to a Command.
type Reply struct {
	OK        bool
	ActualKVp float64
	ActualMA  float64
	ActualMS  float64
}

// Generator owns one HVG instance: its command queue, dispatcher,
// status/alarm broadcast, and exposure sequencing.
type Generator struct {
	transport    Transport
	caps         Capabilities
	interlock    InterlockChecker
	queue        *CommandQueue

	mu     sync.Mutex
	state  State
	params ExposureParams

	alarmMu   sync.Mutex
	alarmHs   []AlarmHandler
	alarmOnce sync.Mutex // serializes alarm delivery: no two handlers run concurrently

	statusMu sync.Mutex
	statusHs []StatusHandler
}

// New constructs a Generator over transport with queue depth/retry
// defaults per spec §4.3 (depth 16, timeout 500ms, retries 3).
func New(transport Transport, caps Capabilities, interlock InterlockChecker) *Generator {
	g := &Generator{
		transport: transport,
		caps:      caps,
		interlock: interlock,
		state:     GenIdle,
	}
	g.queue = NewCommandQueue(transport, DefaultQueueConfig())
	g.queue.Start()
	return g
}

// RegisterAlarmHandler adds h to the set invoked for every alarm.
func (g *Generator) RegisterAlarmHandler(h AlarmHandler) {
	g.alarmMu.Lock()
	defer g.alarmMu.Unlock()
	g.alarmHs = append(g.alarmHs, h)
}

// RegisterStatusHandler adds h to the set invoked on every state change.
func (g *Generator) RegisterStatusHandler(h StatusHandler) {
	g.statusMu.Lock()
	defer g.statusMu.Unlock()
	g.statusHs = append(g.statusHs, h)
}

func (g *Generator) emitStatus(s State) {
	g.statusMu.Lock()
	hs := append([]StatusHandler(nil), g.statusHs...)
	g.statusMu.Unlock()
	snap := StatusSnapshot{State: s, Timestamp: time.Now()}
	for _, h := range hs {
		h(snap)
	}
}

// raiseAlarm invokes every registered alarm handler. One handler
// raising (panicking) does not prevent the others from being invoked;
// the generator guarantees no two handlers run concurrently for the
// same alarm via alarmOnce.
func (g *Generator) raiseAlarm(code, detail string) {
	g.alarmOnce.Lock()
	defer g.alarmOnce.Unlock()

	g.alarmMu.Lock()
	hs := append([]AlarmHandler(nil), g.alarmHs...)
	g.alarmMu.Unlock()

	for _, h := range hs {
		func() {
			defer func() { recover() }()
			h(code, detail)
		}()
	}
}

// SetExposureParams validates params against capabilities and records
// the intent; the generator transitions Idle->Ready.
func (g *Generator) SetExposureParams(p ExposureParams) error {
	if err := g.caps.Validate(p); err != nil {
		return err
	}
	g.mu.Lock()
	g.params = p
	g.state = GenReady
	g.mu.Unlock()
	g.emitStatus(GenReady)
	return nil
}

// StartExposure consults the interlock aggregator, then drives
// Ready->Armed->Exposing, delivering each state change to the status
// stream, and terminates by elapsed time, AEC signal, or abort.
func (g *Generator) StartExposure(ctx context.Context) ExposureResult {
	allPassed, err := g.interlock.CheckAll(ctx)
	if err != nil || !allPassed {
		return ExposureResult{Err: herrors.New("generator.StartExposure", herrors.KindState, err)}
	}

	g.mu.Lock()
	g.state = GenArmed
	params := g.params
	g.mu.Unlock()
	g.emitStatus(GenArmed)

	g.mu.Lock()
	g.state = GenExposing
	g.mu.Unlock()
	g.emitStatus(GenExposing)

	reply, err := g.queue.Enqueue(ctx, Command{Kind: "expose", Payload: params})

	g.mu.Lock()
	g.state = GenIdle
	g.mu.Unlock()
	g.emitStatus(GenIdle)

	if err != nil {
		return ExposureResult{Err: err}
	}

	return ExposureResult{
		Success:   reply.OK,
		ActualKVp: reply.ActualKVp,
		ActualMA:  reply.ActualMA,
		ActualMS:  reply.ActualMS,
		ActualMAs: reply.ActualKVp * reply.ActualMA * reply.ActualMS / 1000,
	}
}

// AbortExposure jumps an abort command to the head of the queue and
// must return in ≤10ms to the caller (the abort itself completing
// asynchronously as the in-flight command finishes).
func (g *Generator) AbortExposure(ctx context.Context) error {
	return g.queue.EnqueueAbort(ctx)
}

// GetStatus returns an atomic snapshot of generator state.
func (g *Generator) GetStatus() StatusSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return StatusSnapshot{State: g.state, Timestamp: time.Now()}
}

// GetCapabilities returns the device's validated parameter ranges.
func (g *Generator) GetCapabilities() Capabilities {
	return g.caps
}

// Close stops the command dispatcher.
func (g *Generator) Close() {
	g.queue.Stop()
}
