package workflow

import "context"

// RecoveryOption is one action the operator may take to resolve an
// incomplete workflow found at startup.
type RecoveryOption string

const (
	OptionAbortToIdle     RecoveryOption = "AbortToIdle"
	OptionReviewAndDecide RecoveryOption = "ReviewAndDecide"
	OptionResumeAtQc      RecoveryOption = "ResumeAtQcReview"
	OptionRetryExport     RecoveryOption = "RetryExport"
)

// RecoveryPlan describes what the recovery service found and what the
// operator may do about it.
type RecoveryPlan struct {
	Incomplete        bool
	LastEntry         *JournalEntry
	Options           []RecoveryOption
	SafetyReviewReq   bool
	ResetState        State
}

// Recover reads the journal tail and computes a RecoveryPlan. If the
// last entry's To state is Idle (or there is no journal history at
// all), the workflow is considered complete and the machine starts in
// Idle with no options offered.
//
// If the last transition passed through ExposureTrigger (as either the
// from or to state), the incomplete workflow is marked safety-critical:
// operator review is required before any new exposure may be armed.
func Recover(ctx context.Context, j Journal) (RecoveryPlan, error) {
	last, err := j.Tail(ctx)
	if err != nil {
		return RecoveryPlan{}, err
	}
	if last == nil || last.To == Idle {
		return RecoveryPlan{Incomplete: false, LastEntry: last, ResetState: Idle}, nil
	}

	plan := RecoveryPlan{
		Incomplete: true,
		LastEntry:  last,
		Options:    []RecoveryOption{OptionAbortToIdle, OptionReviewAndDecide},
		ResetState: last.To,
	}

	if last.To == ExposureTrigger || last.From == ExposureTrigger {
		plan.SafetyReviewReq = true
	}
	if last.To == QcReview || last.To == RejectRetake {
		plan.Options = append(plan.Options, OptionResumeAtQc)
	}
	if last.To == PacsExport {
		plan.Options = append(plan.Options, OptionRetryExport)
	}

	return plan, nil
}

// Apply repositions m per plan's chosen reset behavior. The machine is
// reset directly (bypassing journal/guard evaluation) because recovery
// runs before any transition is attempted and before any subscriber
// exists; it is the one place current state may move without a
// journalled transition, matching spec §5's "recovery may reposition
// it to a safe reset state."
func (plan RecoveryPlan) Apply(m *Machine, chosen RecoveryOption) {
	switch chosen {
	case OptionAbortToIdle:
		m.Reset(Idle)
	case OptionResumeAtQc:
		m.Reset(plan.ResetState)
	case OptionRetryExport:
		m.Reset(PacsExport)
	default:
		// ReviewAndDecide: leave state at the last recorded `to`
		// state until the operator picks a concrete option.
		m.Reset(plan.ResetState)
	}
}
