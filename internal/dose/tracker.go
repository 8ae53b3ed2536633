package dose

import (
	"context"
	"sync"
	"time"
)

// Tracker accumulates dose per study (in-process) and per patient-day
// (via DailyCache), and evaluates limit checks against both buckets.
// Record also remembers which study is currently active for a patient,
// since CheckLimit is given only a patient ID and must still report a
// within_study_limit verdict — the patient's most recently recorded
// study is used for that bucket.
type Tracker struct {
	daily  DailyCache
	limits Limits

	mu            sync.Mutex
	studyDAP      map[string]float64 // studyID -> cumulative DAP
	activeStudyOf map[string]string  // patientID -> most recent studyID
}

// NewTracker constructs a Tracker over cache with the given limits.
func NewTracker(cache DailyCache, limits Limits) *Tracker {
	return &Tracker{
		daily:         cache,
		limits:        limits,
		studyDAP:      map[string]float64{},
		activeStudyOf: map[string]string{},
	}
}

// Record accumulates exposureDAP into both the study's and the
// patient's daily bucket. Concurrent Record calls on the same study
// serialize under Tracker's lock; no update is lost.
func (t *Tracker) Record(ctx context.Context, studyID, patientID string, exposureDAP float64) (DoseSummary, error) {
	t.mu.Lock()
	t.studyDAP[studyID] += exposureDAP
	t.activeStudyOf[patientID] = studyID
	studyTotal := t.studyDAP[studyID]
	t.mu.Unlock()

	dailyTotal, err := t.daily.Add(ctx, patientID, exposureDAP)
	if err != nil {
		return DoseSummary{}, err
	}

	return DoseSummary{
		StudyID:            studyID,
		PatientID:          patientID,
		CumulativeStudyDAP: studyTotal,
		CumulativeDailyDAP: dailyTotal,
		RecordedAt:         time.Now(),
	}, nil
}

// GetCumulative returns the study's accumulated DAP.
func (t *Tracker) GetCumulative(studyID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.studyDAP[studyID]
}

// CheckLimit projects proposedDAP onto both the patient's active
// study bucket and their daily bucket, without recording it. A
// should_warn verdict fires only when a limit is configured and the
// projected total strictly exceeds warning_threshold_pct * limit
// while still not exceeding the limit itself; at exactly the warning
// threshold should_warn is false, at exactly the limit it is true.
func (t *Tracker) CheckLimit(ctx context.Context, patientID string, proposedDAP float64) (DoseLimitCheck, error) {
	t.mu.Lock()
	studyID := t.activeStudyOf[patientID]
	currentStudy := t.studyDAP[studyID]
	t.mu.Unlock()

	currentDaily, err := t.daily.Get(ctx, patientID)
	if err != nil {
		return DoseLimitCheck{}, err
	}

	projectedStudy := currentStudy + proposedDAP
	projectedDaily := currentDaily + proposedDAP

	check := DoseLimitCheck{
		CurrentStudyDAP:   currentStudy,
		CurrentDailyDAP:   currentDaily,
		ProposedDAP:       proposedDAP,
		ProjectedStudyDAP: projectedStudy,
		ProjectedDailyDAP: projectedDaily,
		WithinStudyLimit:  true,
		WithinDailyLimit:  true,
	}

	var warnStudy, warnDaily bool
	if t.limits.StudyLimitDAP != nil {
		limit := *t.limits.StudyLimitDAP
		check.WithinStudyLimit = projectedStudy <= limit
		warnStudy = projectedStudy > t.limits.WarningThresholdPct*limit && projectedStudy <= limit
	}
	if t.limits.DailyLimitDAP != nil {
		limit := *t.limits.DailyLimitDAP
		check.WithinDailyLimit = projectedDaily <= limit
		warnDaily = projectedDaily > t.limits.WarningThresholdPct*limit && projectedDaily <= limit
	}
	check.ShouldWarn = warnStudy || warnDaily

	return check, nil
}
