package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatrixHasExpectedPhysicalEntryCount(t *testing.T) {
	m := NewMatrix()
	// 16 single-trigger logical transitions + 2 physical entries for
	// T-04's duplicated trigger (WorklistTimeout, WorklistError) + 9
	// CriticalHardwareError edges + 9 StudyAbortRequested edges, one
	// per non-Idle state: 16+2+9+9 = 36.
	assert.Equal(t, 36, m.Len())
}

// Scenario 1 (spec §8): interlock blocks exposure.
func TestInterlockBlocksExposure(t *testing.T) {
	j := NewMemoryJournal()
	m := New(NewMatrix(), j)
	m.Reset(PositionAndPreview)

	outcome := m.TryTransition(context.Background(), ExposureTrigger, TriggerOperatorReady, "op-1", Context{
		HardwareInterlockOk: false,
		DetectorReady:       true,
		DoseWithinLimits:    true,
	})

	require.False(t, outcome.Accepted)
	assert.Equal(t, RejectGuardFailed, outcome.Reason)
	assert.Contains(t, outcome.FailedGuards, "HardwareInterlockOk")
	assert.Equal(t, PositionAndPreview, m.CurrentState())
}

// Scenario 5 (spec §8): journal-gated transition.
func TestJournalGatedTransition(t *testing.T) {
	j := NewMemoryJournal()
	j.FailNext = 1
	m := New(NewMatrix(), j)

	sub := m.Subscribe(Filter{})
	defer sub.Unsubscribe()

	outcome := m.TryTransition(context.Background(), WorklistSync, TriggerWorklistSyncRequested, "op-1", Context{
		NetworkReachable: true,
	})
	require.False(t, outcome.Accepted)
	assert.Equal(t, RejectJournalError, outcome.Reason)
	assert.Equal(t, Idle, m.CurrentState())

	select {
	case <-sub.Chan:
		t.Fatal("no event should be published for a rejected transition")
	default:
	}

	outcome = m.TryTransition(context.Background(), WorklistSync, TriggerWorklistSyncRequested, "op-1", Context{
		NetworkReachable: true,
	})
	require.True(t, outcome.Accepted)
	assert.Equal(t, WorklistSync, m.CurrentState())

	select {
	case ev := <-sub.Chan:
		assert.Equal(t, EventStateChanged, ev.Type)
		assert.Equal(t, Idle, ev.From)
		assert.Equal(t, WorklistSync, ev.To)
	default:
		t.Fatal("expected exactly one StateChanged event")
	}
}

func TestUndefinedTransitionRejected(t *testing.T) {
	m := New(NewMatrix(), NewMemoryJournal())
	outcome := m.TryTransition(context.Background(), PacsExport, TriggerExportComplete, "op-1", Context{})
	require.False(t, outcome.Accepted)
	assert.Equal(t, RejectUndefinedTransition, outcome.Reason)
}

func TestCriticalHardwareErrorFromAnyNonIdleState(t *testing.T) {
	for _, s := range nonIdleStates {
		m := New(NewMatrix(), NewMemoryJournal())
		m.Reset(s)
		outcome := m.TryTransition(context.Background(), Idle, TriggerCriticalHardwareError, "op-1", Context{})
		require.Truef(t, outcome.Accepted, "expected CriticalHardwareError to be accepted from %s", s)
		assert.Equal(t, Idle, m.CurrentState())
	}
}

func TestRecoveryMarksSafetyReviewThroughExposureTrigger(t *testing.T) {
	j := NewMemoryJournal()
	m := New(NewMatrix(), j)
	m.Reset(PositionAndPreview)
	outcome := m.TryTransition(context.Background(), ExposureTrigger, TriggerOperatorReady, "op-1", Context{
		HardwareInterlockOk: true, DetectorReady: true, DoseWithinLimits: true,
	})
	require.True(t, outcome.Accepted)

	plan, err := Recover(context.Background(), j)
	require.NoError(t, err)
	assert.True(t, plan.Incomplete)
	assert.True(t, plan.SafetyReviewReq)
	assert.Contains(t, plan.Options, OptionAbortToIdle)
	assert.Contains(t, plan.Options, OptionReviewAndDecide)
}
