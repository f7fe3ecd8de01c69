package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crowdfund/internal/campaign"
	"crowdfund/internal/units"
)

// Read-only entry points of the crowdfunding contract.
const (
	MethodGetTotalRaised    = "get_total_raised"
	MethodGetDonation       = "get_donation"
	MethodGetCampaignInfo   = "get_campaign_info"
	MethodGetMinDonation    = "get_min_donation"
	MethodIsDeadlinePassed  = "is_deadline_passed"
	MethodGetCampaignStatus = "get_campaign_status"
	MethodGetProgress       = "get_progress_percentage"
	MethodGetAllDonors      = "get_all_donors"
	MethodGetIsAlreadyInit  = "get_is_already_init"
)

// progressBasisPointsScale is 100.00% on the contract's progress scale.
const progressBasisPointsScale = 10_000

var (
	// ErrRejected marks a failure reported by the contract or the node rather
	// than by the transport.
	ErrRejected = errors.New("rejected by contract")
	// ErrNoRecord is returned by per-donor reads when the contract has nothing
	// stored for the donor.
	ErrNoRecord = errors.New("no record")
	// ErrWrongNetwork is returned when an envelope is scoped to another network.
	ErrWrongNetwork = errors.New("envelope network mismatch")
)

// RejectedError carries the reason decoded from a contract or node rejection.
type RejectedError struct {
	Reason string
	Err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrRejected, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Network describes one chain instance the client talks to.
type Network struct {
	Name       string
	RPCURL     string
	Passphrase string
	ChainID    int64
	Contract   string
	Token      string
}

// Envelope is an unsigned transaction invoking one contract entry point.
type Envelope struct {
	Method            string
	Source            string
	NetworkPassphrase string
	Raw               []byte
}

// SignedEnvelope is an Envelope after the wallet signed it.
type SignedEnvelope struct {
	NetworkPassphrase string
	Raw               []byte
	Hash              string
}

// TxState is the finality state of a broadcast transaction.
type TxState int

const (
	TxPending TxState = iota
	TxSuccess
	TxFailed
)

// TxStatus is the result of one finality poll.
type TxStatus struct {
	State  TxState
	Detail string
}

// Reader exposes the contract's read-only entry points.
type Reader interface {
	TotalRaised(ctx context.Context) (units.Amount, error)
	Donation(ctx context.Context, donor string) (units.Amount, error)
	CampaignInfo(ctx context.Context) (campaign.Info, error)
	MinDonation(ctx context.Context) (units.Amount, error)
	DeadlinePassed(ctx context.Context) (bool, error)
	CampaignStatus(ctx context.Context) (campaign.Status, error)
	ProgressBasisPoints(ctx context.Context) (uint32, error)
	Donors(ctx context.Context) ([]campaign.Donation, error)
	Initialized(ctx context.Context) (bool, error)
}

// Writer builds, broadcasts and tracks transactions.
type Writer interface {
	Build(ctx context.Context, op campaign.Operation) (Envelope, error)
	Broadcast(ctx context.Context, signed SignedEnvelope) (string, error)
	TransactionStatus(ctx context.Context, hash string) (TxStatus, error)
}

// Client abstracts the on-chain crowdfunding contract.
type Client interface {
	Reader
	Writer
}

// HealthChecker is implemented by clients that can probe their endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// CapabilityProber is implemented by clients that can tell whether the
// deployed contract serves a given entry point.
type CapabilityProber interface {
	Supports(ctx context.Context, method string) (bool, error)
}

// BasisPointsToPercent converts the contract's 0..10000 progress scale.
func BasisPointsToPercent(bp uint32) float64 {
	if bp > progressBasisPointsScale {
		bp = progressBasisPointsScale
	}
	return float64(bp) / 100
}

// WaitForFinality polls until the transaction leaves the pending state or ctx
// is done.
func WaitForFinality(ctx context.Context, w Writer, hash string, interval time.Duration) (TxStatus, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := w.TransactionStatus(ctx, hash)
		if err != nil {
			return TxStatus{}, err
		}
		if status.State != TxPending {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return TxStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
