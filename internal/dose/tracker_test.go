package dose

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitOf(v float64) *float64 { return &v }

func TestRecordAccumulatesStudyAndDailyTotals(t *testing.T) {
	tr := NewTracker(NewInMemoryDailyCache(), Limits{})

	s1, err := tr.Record(context.Background(), "study-1", "patient-1", 10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, s1.CumulativeStudyDAP)
	assert.Equal(t, 10.0, s1.CumulativeDailyDAP)

	s2, err := tr.Record(context.Background(), "study-1", "patient-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 15.0, s2.CumulativeStudyDAP)
	assert.Equal(t, 15.0, s2.CumulativeDailyDAP)
}

func TestConcurrentRecordsOnSameStudySerializeWithoutLostUpdates(t *testing.T) {
	tr := NewTracker(NewInMemoryDailyCache(), Limits{})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tr.Record(context.Background(), "study-1", "patient-1", 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100.0, tr.GetCumulative("study-1"))
}

// Scenario 6 (spec §8): should_warn fires only strictly above the
// warning threshold, and stays on up to and including the limit itself.
func TestCheckLimitShouldWarnIsStrictAtBoundaries(t *testing.T) {
	tr := NewTracker(NewInMemoryDailyCache(), Limits{
		DailyLimitDAP:       limitOf(100),
		WarningThresholdPct: 0.8,
	})

	_, err := tr.Record(context.Background(), "study-1", "patient-1", 70)
	require.NoError(t, err)

	// Projected = 70 + 9 = 79, below 80% of 100 -> no warning.
	check, err := tr.CheckLimit(context.Background(), "patient-1", 9)
	require.NoError(t, err)
	assert.False(t, check.ShouldWarn)
	assert.True(t, check.WithinDailyLimit)

	// Projected = 70 + 15 = 85, strictly above 80 and below 100 -> warn.
	check, err = tr.CheckLimit(context.Background(), "patient-1", 15)
	require.NoError(t, err)
	assert.True(t, check.ShouldWarn)
	assert.True(t, check.WithinDailyLimit)

	// Projected = 70 + 30 = 100, exactly at limit -> within limit, warn.
	check, err = tr.CheckLimit(context.Background(), "patient-1", 30)
	require.NoError(t, err)
	assert.True(t, check.ShouldWarn)
	assert.True(t, check.WithinDailyLimit)

	// Projected = 70 + 31 = 101, over limit -> not within, no warn.
	check, err = tr.CheckLimit(context.Background(), "patient-1", 31)
	require.NoError(t, err)
	assert.False(t, check.WithinDailyLimit)
	assert.False(t, check.ShouldWarn)
}

func TestAbsentLimitsAlwaysWithinNoWarning(t *testing.T) {
	tr := NewTracker(NewInMemoryDailyCache(), Limits{})
	_, err := tr.Record(context.Background(), "study-1", "patient-1", 99999)
	require.NoError(t, err)

	check, err := tr.CheckLimit(context.Background(), "patient-1", 99999)
	require.NoError(t, err)
	assert.True(t, check.WithinStudyLimit)
	assert.True(t, check.WithinDailyLimit)
	assert.False(t, check.ShouldWarn)
}

func TestGetCumulativeUnknownStudyIsZero(t *testing.T) {
	tr := NewTracker(NewInMemoryDailyCache(), Limits{})
	assert.Equal(t, 0.0, tr.GetCumulative("nonexistent"))
}
