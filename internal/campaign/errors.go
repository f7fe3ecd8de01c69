package campaign

import (
	"errors"
	"fmt"

	"crowdfund/internal/units"
)

var (
	ErrInvalidAmount             = units.ErrInvalidAmount
	ErrBelowMinimum              = errors.New("donation below minimum")
	ErrInvalidCampaignParameters = errors.New("invalid campaign parameters")
	ErrReadFailure               = errors.New("contract read failed")
	ErrSignatureDeclined         = errors.New("signature declined")
	ErrNetworkError              = errors.New("network error")
	ErrContractRejected          = errors.New("contract rejected transaction")

	ErrNotConnected       = errors.New("wallet not connected")
	ErrSubmissionInFlight = errors.New("submission already in flight")
)

// RejectionError carries the contract's reason for refusing a transaction.
type RejectionError struct {
	Detail string
	Err    error
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return ErrContractRejected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrContractRejected, e.Detail)
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrContractRejected
}

func (e *RejectionError) Unwrap() error {
	return e.Err
}

// Kind returns a stable label for err, used by metrics and transport mapping.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidCampaignParameters):
		return "invalid_campaign_parameters"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ErrReadFailure):
		return "read_failure"
	case errors.Is(err, ErrSignatureDeclined):
		return "signature_declined"
	case errors.Is(err, ErrContractRejected):
		return "contract_rejected"
	case errors.Is(err, ErrNetworkError):
		return "network_error"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrSubmissionInFlight):
		return "in_flight"
	default:
		return "unknown"
	}
}

// IsValidation reports whether err was raised locally before any network call.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrBelowMinimum) ||
		errors.Is(err, ErrInvalidCampaignParameters)
}
