// Package dose accumulates radiation dose per study and per
// patient-day, and enforces configured limits with a warning
// threshold. In-process accumulation is grounded on the teacher's
// circuitbreaker.Manager map[string]*X + RWMutex registry idiom,
// keyed by study instead of breaker name; the daily bucket is cached
// in Redis (github.com/redis/go-redis/v9), the nearest analogue in
// the teacher's dependency set for TTL'd cross-process state.
package dose

import "time"

// Limits configures the study and daily caps a patient's dose is
// checked against. A nil field means that limit is absent: always
// within limits, never a warning for that bucket.
type Limits struct {
	StudyLimitDAP          *float64
	DailyLimitDAP          *float64
	WarningThresholdPct    float64 // e.g. 0.8; ignored when the relevant limit is nil
}

// DoseSummary is returned by Record: the study's and the patient's
// daily cumulative dose after the just-recorded exposure.
type DoseSummary struct {
	StudyID             string
	PatientID           string
	CumulativeStudyDAP  float64
	CumulativeDailyDAP  float64
	RecordedAt          time.Time
}

// DoseLimitCheck is returned by CheckLimit.
type DoseLimitCheck struct {
	CurrentStudyDAP   float64
	CurrentDailyDAP   float64
	ProposedDAP       float64
	ProjectedStudyDAP float64
	ProjectedDailyDAP float64

	WithinStudyLimit bool
	WithinDailyLimit bool
	ShouldWarn       bool
}
