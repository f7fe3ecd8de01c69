package campaign

import (
	"fmt"
	"time"

	"crowdfund/internal/units"
)

// Status is the contract's recorded campaign state.
type Status uint32

const (
	StatusActive     Status = 0
	StatusSuccessful Status = 1
	StatusFailed     Status = 2
	StatusWithdrawn  Status = 3
)

// StatusFromCode validates a raw status code read from the contract.
func StatusFromCode(code uint32) (Status, error) {
	s := Status(code)
	switch s {
	case StatusActive, StatusSuccessful, StatusFailed, StatusWithdrawn:
		return s, nil
	}
	return 0, fmt.Errorf("unknown campaign status code %d", code)
}

func (s Status) String() string {
	switch s {
	case StatusSuccessful:
		return "Successful"
	case StatusFailed:
		return "Failed"
	case StatusWithdrawn:
		return "Withdrawn"
	default:
		return "Active"
	}
}

// Info is the working copy of the campaign parameters held for one refresh.
type Info struct {
	Owner       string
	Title       string
	Description string
	ImageURL    string
	Goal        units.Amount
	Deadline    time.Time
	Status      Status
	MinDonation units.Amount
}

// Snapshot holds the amounts read during the latest reconciliation.
type Snapshot struct {
	TotalRaised         units.Amount
	PreviousTotalRaised units.Amount
	CallerDonation      units.Amount
	ProgressPercent     float64
}

// Delta is the change of the total since the previous successful read.
// It is zero when the total did not grow.
func (s Snapshot) Delta() units.Amount {
	if s.TotalRaised <= s.PreviousTotalRaised {
		return 0
	}
	return s.TotalRaised - s.PreviousTotalRaised
}

// Donation is a single donor's accumulated contribution.
type Donation struct {
	Donor  string
	Amount units.Amount
}
