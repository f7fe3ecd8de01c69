package reader

import (
	"context"
	"errors"
	"fmt"

	"crowdfund/internal/campaign"
	"crowdfund/internal/contract"
	"crowdfund/internal/units"
)

// Reader queries the contract and normalizes results into campaign types.
// Every failure it returns wraps campaign.ErrReadFailure.
type Reader struct {
	contract contract.Reader
	info     InfoProvider
}

func New(c contract.Reader, info InfoProvider) *Reader {
	if info == nil {
		info = FullInfoProvider{Contract: c}
	}
	return &Reader{contract: c, info: info}
}

// InfoSource names the active InfoProvider.
func (r *Reader) InfoSource() string {
	return r.info.Source()
}

func (r *Reader) FetchTotalRaised(ctx context.Context) (units.Amount, error) {
	total, err := r.contract.TotalRaised(ctx)
	if err != nil {
		return 0, readFailure("total raised", err)
	}
	return total, nil
}

// FetchCallerDonation returns 0 when the contract holds no record for donor.
// Any other failure is a read failure.
func (r *Reader) FetchCallerDonation(ctx context.Context, donor string) (units.Amount, error) {
	amount, err := r.contract.Donation(ctx, donor)
	if errors.Is(err, contract.ErrNoRecord) {
		return 0, nil
	}
	if err != nil {
		return 0, readFailure("donation", err)
	}
	return amount, nil
}

func (r *Reader) FetchCampaignInfo(ctx context.Context) (campaign.Info, error) {
	info, err := r.info.CampaignInfo(ctx)
	if err != nil {
		return campaign.Info{}, readFailure("campaign info", err)
	}
	return info, nil
}

func (r *Reader) FetchDonors(ctx context.Context) ([]campaign.Donation, error) {
	donors, err := r.contract.Donors(ctx)
	if err != nil {
		return nil, readFailure("donors", err)
	}
	return donors, nil
}

// FetchChainProgress returns the contract's own progress figure in percent.
func (r *Reader) FetchChainProgress(ctx context.Context) (float64, error) {
	bp, err := r.contract.ProgressBasisPoints(ctx)
	if err != nil {
		return 0, readFailure("progress", err)
	}
	return contract.BasisPointsToPercent(bp), nil
}

func readFailure(field string, err error) error {
	return fmt.Errorf("%w: %s: %w", campaign.ErrReadFailure, field, err)
}
