package campaign

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdfund/internal/units"
)

func TestDeriveViewProgressScenario(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	info := Info{Goal: 1_000_000_000, Deadline: now.Add(time.Hour), Status: StatusActive}
	snap := Snapshot{TotalRaised: 50_000_000}

	v := DeriveView(info, snap, now)

	assert.Equal(t, 5.0, v.ProgressPercent)
	assert.False(t, v.IsGoalReached)
	assert.False(t, v.IsDeadlinePassed)
	assert.Equal(t, "Active", v.StatusLabel)
	assert.True(t, v.CanDonate)
	assert.False(t, v.CanWithdraw)
}

func TestDeriveViewDeadlinePassedKeepsRecordedStatus(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	info := Info{Goal: 1_000_000_000, Deadline: now.Add(-time.Millisecond), Status: StatusActive}

	v := DeriveView(info, Snapshot{CallerDonation: 1}, now)

	assert.True(t, v.IsDeadlinePassed)
	assert.Equal(t, "Active", v.StatusLabel)
	assert.False(t, v.CanDonate)
	assert.True(t, v.CanRefund)
}

func TestDeriveViewDeadlinePassedIndependentOfStatus(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	for _, st := range []Status{StatusActive, StatusSuccessful, StatusFailed, StatusWithdrawn} {
		info := Info{Goal: 10, Deadline: now.Add(-time.Second), Status: st}
		v := DeriveView(info, Snapshot{}, now)
		assert.True(t, v.IsDeadlinePassed, st.String())
		assert.Equal(t, st.String(), v.StatusLabel)
	}
}

func TestDeriveViewAtDeadlineIsNotPassed(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := DeriveView(Info{Goal: 1, Deadline: now}, Snapshot{}, now)
	assert.False(t, v.IsDeadlinePassed)
}

func TestDeriveViewGoalReached(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	info := Info{Goal: 100, Deadline: now.Add(time.Hour), Status: StatusActive}

	v := DeriveView(info, Snapshot{TotalRaised: 100}, now)

	assert.True(t, v.IsGoalReached)
	assert.True(t, v.CanWithdraw)
	assert.Equal(t, "Active", v.StatusLabel, "recorded status wins until the contract updates it")
	assert.Equal(t, 100.0, v.ProgressPercent)
}

func TestProgress(t *testing.T) {
	cases := []struct {
		total, goal units.Amount
		want        float64
	}{
		{0, 0, 0},
		{500, 0, 0},
		{0, 100, 0},
		{25, 100, 25},
		{150, 100, 100},
		{1, 3, 100.0 / 3},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, Progress(tc.total, tc.goal), 1e-9, fmt.Sprintf("%d/%d", tc.total, tc.goal))
	}

	for g := units.Amount(1); g < 2000; g += 37 {
		for total := units.Amount(0); total < 4000; total += 91 {
			p := Progress(total, g)
			require.GreaterOrEqual(t, p, 0.0)
			require.LessOrEqual(t, p, 100.0)
		}
	}
}

func TestStatusFromCode(t *testing.T) {
	st, err := StatusFromCode(3)
	require.NoError(t, err)
	assert.Equal(t, StatusWithdrawn, st)

	_, err = StatusFromCode(7)
	assert.Error(t, err)
}

func TestSnapshotDelta(t *testing.T) {
	assert.Equal(t, units.Amount(5), Snapshot{TotalRaised: 15, PreviousTotalRaised: 10}.Delta())
	assert.Zero(t, Snapshot{TotalRaised: 5, PreviousTotalRaised: 10}.Delta())
}
