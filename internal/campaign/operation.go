package campaign

import (
	"time"

	"crowdfund/internal/units"
)

// Contract entry points.
const (
	MethodDonate     = "donate"
	MethodWithdraw   = "withdraw"
	MethodRefund     = "refund"
	MethodInitialize = "initialize"
)

// Operation is a validated, unsigned request for one contract entry point.
type Operation interface {
	Method() string
	// Source is the account that must sign the operation.
	Source() string
	operation()
}

type Donate struct {
	Donor  string
	Amount units.Amount
}

type Withdraw struct {
	Owner string
}

type Refund struct {
	Donor string
}

type Initialize struct {
	Owner       string
	Goal        units.Amount
	Deadline    time.Time
	Token       string
	Title       string
	Description string
	ImageURL    string
	MinDonation units.Amount
}

func (Donate) Method() string     { return MethodDonate }
func (Withdraw) Method() string   { return MethodWithdraw }
func (Refund) Method() string     { return MethodRefund }
func (Initialize) Method() string { return MethodInitialize }

func (o Donate) Source() string     { return o.Donor }
func (o Withdraw) Source() string   { return o.Owner }
func (o Refund) Source() string     { return o.Donor }
func (o Initialize) Source() string { return o.Owner }

func (Donate) operation()     {}
func (Withdraw) operation()   {}
func (Refund) operation()     {}
func (Initialize) operation() {}
