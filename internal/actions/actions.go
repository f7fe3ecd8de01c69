// Package actions validates user requests and hands the resulting operations
// to the submitter.
package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"crowdfund/internal/campaign"
	"crowdfund/internal/submitter"
	"crowdfund/internal/units"
	"crowdfund/internal/wallet"
)

// Submitter runs a validated operation to a terminal state.
type Submitter interface {
	Submit(ctx context.Context, op campaign.Operation) (submitter.Result, error)
}

// CampaignParams is the creation form in display units.
type CampaignParams struct {
	Title       string
	Description string
	ImageURL    string
	Goal        string
	Deadline    time.Time
	// MinDonation may be empty, meaning no minimum.
	MinDonation string
}

type Actions struct {
	wallet    wallet.Wallet
	submitter Submitter
	token     string
	now       func() time.Time
	log       logrus.FieldLogger
}

type Option func(*Actions)

func WithClock(now func() time.Time) Option {
	return func(a *Actions) { a.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Actions) { a.log = log }
}

// New returns Actions signing with w. token is the address of the asset the
// campaigns raise.
func New(w wallet.Wallet, s Submitter, token string, opts ...Option) *Actions {
	if w == nil {
		w = wallet.None{}
	}
	a := &Actions{
		wallet:    w,
		submitter: s,
		token:     token,
		now:       time.Now,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Donate checks amount against info.MinDonation and submits the donation in
// base units, floored.
func (a *Actions) Donate(ctx context.Context, info campaign.Info, amount string) (submitter.Result, error) {
	donor, err := a.caller()
	if err != nil {
		return submitter.Result{}, err
	}
	if strings.TrimSpace(amount) == "" {
		return submitter.Result{}, fmt.Errorf("%w: amount is required", campaign.ErrInvalidAmount)
	}
	base, err := units.ToBase(amount)
	if err != nil {
		return submitter.Result{}, err
	}
	if base == 0 {
		return submitter.Result{}, fmt.Errorf("%w: amount must be positive", campaign.ErrInvalidAmount)
	}
	if base < info.MinDonation {
		a.log.WithFields(logrus.Fields{"donor": donor, "amount": base.String()}).Debug("donation below minimum")
		return submitter.Result{}, fmt.Errorf("%w: minimum donation is %s", campaign.ErrBelowMinimum,
			units.ToDisplay(info.MinDonation, units.FullPrecision))
	}
	return a.submitter.Submit(ctx, campaign.Donate{Donor: donor, Amount: base})
}

// Withdraw submits a withdrawal for the connected account. Eligibility is
// left to the contract.
func (a *Actions) Withdraw(ctx context.Context) (submitter.Result, error) {
	owner, err := a.caller()
	if err != nil {
		return submitter.Result{}, err
	}
	return a.submitter.Submit(ctx, campaign.Withdraw{Owner: owner})
}

// Refund submits a refund for the connected account. Eligibility is left to
// the contract.
func (a *Actions) Refund(ctx context.Context) (submitter.Result, error) {
	donor, err := a.caller()
	if err != nil {
		return submitter.Result{}, err
	}
	return a.submitter.Submit(ctx, campaign.Refund{Donor: donor})
}

// Initialize creates a campaign owned by the connected account.
func (a *Actions) Initialize(ctx context.Context, p CampaignParams) (submitter.Result, error) {
	owner, err := a.caller()
	if err != nil {
		return submitter.Result{}, err
	}
	op, err := a.buildInitialize(owner, p)
	if err != nil {
		return submitter.Result{}, err
	}
	return a.submitter.Submit(ctx, op)
}

func (a *Actions) buildInitialize(owner string, p CampaignParams) (campaign.Initialize, error) {
	goal, err := units.ToBase(p.Goal)
	if err != nil {
		return campaign.Initialize{}, fmt.Errorf("%w: goal: %w", campaign.ErrInvalidCampaignParameters, err)
	}
	if goal == 0 {
		return campaign.Initialize{}, fmt.Errorf("%w: goal must be positive", campaign.ErrInvalidCampaignParameters)
	}
	// The contract stores whole seconds; validate what it will see.
	deadline := p.Deadline.Truncate(time.Second)
	if !deadline.After(a.now()) {
		return campaign.Initialize{}, fmt.Errorf("%w: deadline must be in the future", campaign.ErrInvalidCampaignParameters)
	}
	var minDonation units.Amount
	if strings.TrimSpace(p.MinDonation) != "" {
		minDonation, err = units.ToBase(p.MinDonation)
		if err != nil {
			return campaign.Initialize{}, fmt.Errorf("%w: minimum donation: %w", campaign.ErrInvalidCampaignParameters, err)
		}
	}
	return campaign.Initialize{
		Owner:       owner,
		Goal:        goal,
		Deadline:    deadline,
		Token:       a.token,
		Title:       strings.TrimSpace(p.Title),
		Description: strings.TrimSpace(p.Description),
		ImageURL:    strings.TrimSpace(p.ImageURL),
		MinDonation: minDonation,
	}, nil
}

func (a *Actions) caller() (string, error) {
	addr := a.wallet.Address()
	if !a.wallet.IsConnected() || addr == wallet.Disconnected {
		return "", campaign.ErrNotConnected
	}
	return addr, nil
}
