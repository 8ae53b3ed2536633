package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/holee9/hnvue/internal/herrors"
)

// Machine is the journalled workflow finite-state machine. try_transition
// (TryTransition) is its only mutator; every other method observes.
//
// mu guards only the `current` field itself and is held just long
// enough to snapshot or commit it; it is never held across the
// journal's durable write. txMu serializes the transition pipeline
// (lookup -> guard eval -> journal append -> commit) so concurrent
// TryTransition callers can't race each other between the from-snapshot
// and the commit, without forcing CurrentState readers to wait on a
// journal round-trip.
type Machine struct {
	mu      sync.RWMutex
	txMu    sync.Mutex
	current State
	matrix  *Matrix
	journal Journal
	bus     *EventBus
}

// New constructs a Machine in Idle, wired to matrix and journal.
func New(matrix *Matrix, journal Journal) *Machine {
	return &Machine{
		current: Idle,
		matrix:  matrix,
		journal: journal,
		bus:     NewEventBus(),
	}
}

// CurrentState returns an atomic snapshot of the current state.
func (m *Machine) CurrentState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe registers a new event subscriber on the machine's bus.
func (m *Machine) Subscribe(filter Filter) *Subscription {
	return m.bus.Subscribe(filter)
}

// Reset forcibly repositions current state without journalling or
// publishing; used only by the recovery service at startup, before any
// subscriber exists.
func (m *Machine) Reset(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = s
}

// TryTransition attempts (current, target, trigger): looks up the
// edge, evaluates its guards against ctx, journals the attempt, and
// only then commits current := target and publishes StateChanged.
//
// Steps follow spec §4.1's protocol exactly:
//  1. snapshot from := current
//  2. edge lookup; undefined -> Rejected(UndefinedTransition)
//  3. guard evaluation, pure and synchronous
//  4. any guard false -> Rejected(GuardFailed), no state change
//  5. compose the journal entry with every guard's result
//  6. durable journal write, with no lock on `current` held -> on
//     failure, Rejected(JournalError), no state change
//  7. commit current := target
//  8. publish StateChanged to all subscribers
//
// txMu holds the pipeline exclusive end-to-end so step 7's commit
// still targets the `from` state read in step 1; CurrentState callers
// are never blocked on the journal round-trip in step 6.
func (m *Machine) TryTransition(ctx context.Context, target State, trigger Trigger, operatorID string, rctx Context) TransitionOutcome {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	from := m.CurrentState()

	edge, ok := m.matrix.Lookup(from, target, trigger)
	if !ok {
		return TransitionOutcome{Accepted: false, Reason: RejectUndefinedTransition}
	}

	results, failed := Evaluate(edge, rctx)
	if len(failed) > 0 {
		return TransitionOutcome{Accepted: false, Reason: RejectGuardFailed, FailedGuards: failed}
	}

	category := CategoryWorkflow
	if edge.IsSafetyCritical {
		category = CategorySafety
	}

	entry := &JournalEntry{
		UTCTimestamp: time.Now().UTC(),
		From:         from,
		To:           target,
		Trigger:      trigger,
		GuardResults: results,
		OperatorID:   operatorID,
		StudyUID:     rctx.StudyUID,
		Category:     category,
	}

	if err := m.journal.Append(ctx, entry); err != nil {
		return TransitionOutcome{
			Accepted: false,
			Reason:   RejectJournalError,
			Err:      herrors.New("workflow.TryTransition", herrors.KindJournal, err),
		}
	}

	m.mu.Lock()
	m.current = target
	m.mu.Unlock()

	m.bus.Publish(&Event{
		Type:      EventStateChanged,
		From:      from,
		To:        target,
		Trigger:   trigger,
		Timestamp: entry.UTCTimestamp,
	})

	// Landing in ExposureTrigger is what starts the real-time
	// acquisition path: acquireAndPublish subscribes to exactly this
	// event to pull the detector frame through the imaging pipeline.
	if target == ExposureTrigger {
		m.bus.Publish(&Event{
			Type:      EventExposureTriggered,
			From:      from,
			To:        target,
			Trigger:   trigger,
			Timestamp: entry.UTCTimestamp,
			Data: map[string]interface{}{
				"study_uid":    rctx.StudyUID,
				"operator_id":  operatorID,
				"patient_id":   rctx.PatientID,
				"body_part":    rctx.BodyPart,
				"projection":   rctx.Projection,
				"device_model": rctx.DeviceModel,
			},
		})
	}

	return TransitionOutcome{Accepted: true, Entry: entry}
}
