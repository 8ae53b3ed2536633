package workflow

// GuardFunc is a single named predicate evaluated against a Context.
// Evaluation must be pure and synchronous — no I/O.
type GuardFunc struct {
	Name string
	Fn   func(Context) bool
}

// edgeKey identifies a physical transition-table entry.
type edgeKey struct {
	From    State
	To      State
	Trigger Trigger
}

// Edge is one physical entry of the transition table.
type Edge struct {
	From             State
	To               State
	Trigger          Trigger
	Guards           []GuardFunc
	IsSafetyCritical bool
}

// Matrix is the immutable, constructed-once transition table. Lookup is
// by (from, to, trigger).
type Matrix struct {
	edges map[edgeKey]Edge
}

func guard(name string, fn func(Context) bool) GuardFunc {
	return GuardFunc{Name: name, Fn: fn}
}

var (
	guardNetworkReachableOrAutoSync = guard("NetworkReachableOrAutoSyncIntervalElapsed", func(c Context) bool {
		return c.NetworkReachable || c.AutoSyncIntervalElapsed
	})
	guardHardwareInterlockOk = guard("HardwareInterlockOk", func(c Context) bool {
		return c.HardwareInterlockOk
	})
	guardDetectorReady = guard("DetectorReady", func(c Context) bool {
		return c.DetectorReady
	})
	guardProtocolValid = guard("ProtocolValid", func(c Context) bool {
		return c.ProtocolValid
	})
	guardExposureParamsInSafeRange = guard("ExposureParamsInSafeRange", func(c Context) bool {
		return c.ExposureParamsInSafeRange
	})
	guardOperatorConfirmed = guard("OperatorConfirmed", func(c Context) bool {
		return c.OperatorConfirmed
	})
	guardDoseWithinLimits = guard("DoseWithinLimits", func(c Context) bool {
		return c.DoseWithinLimits
	})
	guardMoreExposures = guard("MoreExposuresInProtocol", func(c Context) bool {
		return c.MoreExposuresInProtocol
	})
	guardNoMoreExposures = guard("NoMoreExposuresInProtocol", func(c Context) bool {
		return !c.MoreExposuresInProtocol
	})
)

// nonIdleStates lists every state CriticalHardwareError and
// StudyAbortRequested are defined from, per spec T-18/T-19.
var nonIdleStates = []State{
	WorklistSync, PatientSelect, ProtocolSelect, PositionAndPreview,
	ExposureTrigger, QcReview, RejectRetake, MppsComplete, PacsExport,
}

// NewMatrix builds the static transition table: 19 logical transitions,
// 36 physical entries (T-04's duplicated trigger contributes one extra
// physical entry beyond its logical transition, plus the global
// CriticalHardwareError and StudyAbortRequested edges from every
// non-Idle state, 9 apiece).
func NewMatrix() *Matrix {
	m := &Matrix{edges: make(map[edgeKey]Edge)}

	add := func(e Edge) {
		m.edges[edgeKey{e.From, e.To, e.Trigger}] = e
	}

	// T-01
	add(Edge{From: Idle, To: WorklistSync, Trigger: TriggerWorklistSyncRequested,
		Guards: []GuardFunc{guardNetworkReachableOrAutoSync}})
	// T-02
	add(Edge{From: Idle, To: PatientSelect, Trigger: TriggerEmergencyWorkflow,
		Guards: []GuardFunc{guardHardwareInterlockOk}})
	// T-03
	add(Edge{From: WorklistSync, To: PatientSelect, Trigger: TriggerWorklistResponseReceived})
	// T-04 (duplicated trigger: two physical entries share the logical transition)
	add(Edge{From: WorklistSync, To: PatientSelect, Trigger: TriggerWorklistTimeout})
	add(Edge{From: WorklistSync, To: PatientSelect, Trigger: TriggerWorklistError})
	// T-05
	add(Edge{From: PatientSelect, To: ProtocolSelect, Trigger: TriggerPatientConfirmed})
	// T-06
	add(Edge{From: ProtocolSelect, To: PositionAndPreview, Trigger: TriggerProtocolConfirmed,
		Guards: []GuardFunc{guardProtocolValid, guardExposureParamsInSafeRange}})
	// T-07 (safety-critical)
	add(Edge{From: PositionAndPreview, To: ExposureTrigger, Trigger: TriggerOperatorReady,
		Guards:           []GuardFunc{guardHardwareInterlockOk, guardDetectorReady, guardDoseWithinLimits},
		IsSafetyCritical: true})
	// T-08 (safety-critical)
	add(Edge{From: ExposureTrigger, To: QcReview, Trigger: TriggerAcquisitionComplete,
		IsSafetyCritical: true})
	// T-09 (safety-critical)
	add(Edge{From: ExposureTrigger, To: QcReview, Trigger: TriggerAcquisitionFailed,
		IsSafetyCritical: true})
	// T-10
	add(Edge{From: QcReview, To: MppsComplete, Trigger: TriggerImageAccepted,
		Guards: []GuardFunc{guardNoMoreExposures}})
	// T-11
	add(Edge{From: QcReview, To: ProtocolSelect, Trigger: TriggerImageAccepted,
		Guards: []GuardFunc{guardMoreExposures}})
	// T-12
	add(Edge{From: QcReview, To: RejectRetake, Trigger: TriggerImageRejected})
	// T-13
	add(Edge{From: RejectRetake, To: PositionAndPreview, Trigger: TriggerRetakeApproved,
		Guards: []GuardFunc{guardHardwareInterlockOk}})
	// T-14
	add(Edge{From: RejectRetake, To: MppsComplete, Trigger: TriggerRetakeCancelled})
	// T-15
	add(Edge{From: MppsComplete, To: PacsExport, Trigger: TriggerExportInitiated})
	// T-16
	add(Edge{From: PacsExport, To: Idle, Trigger: TriggerExportComplete})
	// T-17
	add(Edge{From: PacsExport, To: Idle, Trigger: TriggerExportFailed})

	// T-18: CriticalHardwareError, unconditional, from every non-Idle state.
	for _, s := range nonIdleStates {
		add(Edge{From: s, To: Idle, Trigger: TriggerCriticalHardwareError, IsSafetyCritical: true})
	}
	// T-19: StudyAbortRequested, guarded, from every non-Idle state.
	for _, s := range nonIdleStates {
		add(Edge{From: s, To: Idle, Trigger: TriggerStudyAbortRequested,
			Guards: []GuardFunc{guardOperatorConfirmed}})
	}

	return m
}

// Lookup returns the edge for (from, to, trigger) and whether it exists.
func (m *Matrix) Lookup(from, to State, trigger Trigger) (Edge, bool) {
	e, ok := m.edges[edgeKey{from, to, trigger}]
	return e, ok
}

// Len reports the number of physical entries in the table (expected 36).
func (m *Matrix) Len() int { return len(m.edges) }

// Evaluate runs every guard on the edge against ctx, returning the
// results and the names of any that failed.
func Evaluate(e Edge, ctx Context) ([]GuardResult, []string) {
	results := make([]GuardResult, 0, len(e.Guards))
	var failed []string
	for _, g := range e.Guards {
		ok := g.Fn(ctx)
		results = append(results, GuardResult{Name: g.Name, Passed: ok})
		if !ok {
			failed = append(failed, g.Name)
		}
	}
	return results, failed
}
