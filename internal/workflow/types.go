// Package workflow implements the clinical workflow finite-state
// machine: transition table, guard evaluation, durable journalling,
// the state-change event bus, and crash recovery.
package workflow

import "time"

// State is one of the ten workflow states an exam can be in.
type State int

const (
	Idle State = iota
	WorklistSync
	PatientSelect
	ProtocolSelect
	PositionAndPreview
	ExposureTrigger
	QcReview
	RejectRetake
	MppsComplete
	PacsExport
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case WorklistSync:
		return "WorklistSync"
	case PatientSelect:
		return "PatientSelect"
	case ProtocolSelect:
		return "ProtocolSelect"
	case PositionAndPreview:
		return "PositionAndPreview"
	case ExposureTrigger:
		return "ExposureTrigger"
	case QcReview:
		return "QcReview"
	case RejectRetake:
		return "RejectRetake"
	case MppsComplete:
		return "MppsComplete"
	case PacsExport:
		return "PacsExport"
	default:
		return "Unknown"
	}
}

// Trigger is an opaque transition symbol.
type Trigger string

const (
	TriggerWorklistSyncRequested    Trigger = "WorklistSyncRequested"
	TriggerEmergencyWorkflow        Trigger = "EmergencyWorkflowRequested"
	TriggerWorklistResponseReceived Trigger = "WorklistResponseReceived"
	TriggerWorklistTimeout          Trigger = "WorklistTimeout"
	TriggerWorklistError            Trigger = "WorklistError"
	TriggerPatientConfirmed         Trigger = "PatientConfirmed"
	TriggerProtocolConfirmed        Trigger = "ProtocolConfirmed"
	TriggerOperatorReady            Trigger = "OperatorReady"
	TriggerAcquisitionComplete      Trigger = "AcquisitionComplete"
	TriggerAcquisitionFailed        Trigger = "AcquisitionFailed"
	TriggerImageAccepted            Trigger = "ImageAccepted"
	TriggerImageRejected            Trigger = "ImageRejected"
	TriggerRetakeApproved           Trigger = "RetakeApproved"
	TriggerRetakeCancelled          Trigger = "RetakeCancelled"
	TriggerExportInitiated          Trigger = "ExportInitiated"
	TriggerExportComplete           Trigger = "ExportComplete"
	TriggerExportFailed             Trigger = "ExportFailed"
	TriggerCriticalHardwareError    Trigger = "CriticalHardwareError"
	TriggerStudyAbortRequested      Trigger = "StudyAbortRequested"
)

// Category classifies a journal entry.
type Category int

const (
	CategoryWorkflow Category = iota
	CategorySafety
	CategoryAudit
)

func (c Category) String() string {
	switch c {
	case CategorySafety:
		return "Safety"
	case CategoryAudit:
		return "Audit"
	default:
		return "Workflow"
	}
}

// GuardResult records the outcome of a single named guard evaluation.
type GuardResult struct {
	Name   string
	Passed bool
}

// Context is the runtime context guards are evaluated against. All
// fields are snapshots supplied by the caller; guard evaluation is
// pure and synchronous — it must never perform I/O.
//
// StudyUID is not read by any guard; it is carried through so
// TryTransition can stamp it onto the journal entry and onto the
// ExposureTriggered event it publishes when a transition lands in
// ExposureTrigger.
type Context struct {
	NetworkReachable         bool
	AutoSyncIntervalElapsed  bool
	HardwareInterlockOk      bool
	DetectorReady            bool
	ProtocolValid            bool
	ExposureParamsInSafeRange bool
	ImageAccepted            bool
	MoreExposuresInProtocol  bool
	OperatorConfirmed        bool
	DoseWithinLimits         bool
	StudyUID                 string

	// PatientID, BodyPart, Projection, and DeviceModel are not read by
	// any guard; like StudyUID they ride through TryTransition only to
	// be stamped onto the EventExposureTriggered payload, so the
	// acquisition loop can look up the exam protocol and attribute dose
	// without a second round-trip to the caller.
	PatientID   string
	BodyPart    string
	Projection  string
	DeviceModel string
}

// JournalEntry is a single append-only record of an accepted or
// attempted transition.
type JournalEntry struct {
	TransitionID string
	UTCTimestamp time.Time
	From         State
	To           State
	Trigger      Trigger
	GuardResults []GuardResult
	OperatorID   string
	StudyUID     string
	Metadata     map[string]string
	Category     Category
	Sequence     int64
}

// RejectReason enumerates why try_transition refused to move state.
type RejectReason int

const (
	RejectNone RejectReason = iota
	RejectUndefinedTransition
	RejectGuardFailed
	RejectJournalError
)

func (r RejectReason) String() string {
	switch r {
	case RejectUndefinedTransition:
		return "UndefinedTransition"
	case RejectGuardFailed:
		return "GuardFailed"
	case RejectJournalError:
		return "JournalError"
	default:
		return "None"
	}
}

// TransitionOutcome is the result of try_transition.
type TransitionOutcome struct {
	Accepted     bool
	Reason       RejectReason
	FailedGuards []string
	Entry        *JournalEntry
	Err          error
}
