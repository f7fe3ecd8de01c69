package campaign

import (
	"time"

	"crowdfund/internal/units"
)

// DerivedView is what a caller renders. StatusLabel always reflects the
// contract's recorded status; the remaining flags are computed locally and only
// gate affordances.
type DerivedView struct {
	IsDeadlinePassed bool
	IsGoalReached    bool
	StatusLabel      string
	ProgressPercent  float64

	CanDonate   bool
	CanWithdraw bool
	CanRefund   bool
}

// DeriveView computes the view for info and snapshot at now.
func DeriveView(info Info, snapshot Snapshot, now time.Time) DerivedView {
	v := DerivedView{
		IsDeadlinePassed: now.After(info.Deadline),
		IsGoalReached:    snapshot.TotalRaised >= info.Goal,
		StatusLabel:      info.Status.String(),
		ProgressPercent:  Progress(snapshot.TotalRaised, info.Goal),
	}
	v.CanDonate = info.Status == StatusActive && !v.IsDeadlinePassed
	v.CanWithdraw = v.IsGoalReached
	v.CanRefund = v.IsDeadlinePassed && !v.IsGoalReached && snapshot.CallerDonation > 0
	return v
}

// Progress returns 100*total/goal clamped to [0, 100], or 0 for a zero goal.
func Progress(total, goal units.Amount) float64 {
	if goal == 0 {
		return 0
	}
	p := float64(total) * 100 / float64(goal)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
