package reader

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"crowdfund/internal/campaign"
	"crowdfund/internal/contract"
	"crowdfund/internal/units"
)

// InfoProvider supplies the campaign parameters for one refresh.
type InfoProvider interface {
	CampaignInfo(ctx context.Context) (campaign.Info, error)
	// Source names the provider in logs and views.
	Source() string
}

// FullInfoProvider reads the parameters from get_campaign_info.
type FullInfoProvider struct {
	Contract contract.Reader
}

func (p FullInfoProvider) CampaignInfo(ctx context.Context) (campaign.Info, error) {
	return p.Contract.CampaignInfo(ctx)
}

func (FullInfoProvider) Source() string { return "contract" }

// Defaults are stand-in campaign parameters for deployments that do not serve
// get_campaign_info.
type Defaults struct {
	Goal        units.Amount
	Lifetime    time.Duration
	MinDonation units.Amount
}

// DefaultsInfoProvider synthesizes an active campaign from Defaults. The
// deadline is always Lifetime after the refresh.
type DefaultsInfoProvider struct {
	Defaults Defaults
	Now      func() time.Time
}

func (p DefaultsInfoProvider) CampaignInfo(context.Context) (campaign.Info, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return campaign.Info{
		Goal:        p.Defaults.Goal,
		Deadline:    now().Add(p.Defaults.Lifetime),
		Status:      campaign.StatusActive,
		MinDonation: p.Defaults.MinDonation,
	}, nil
}

func (DefaultsInfoProvider) Source() string { return "defaults" }

// LiveInfoProvider serves Fallback while the campaign is uninitialized and
// get_campaign_info once it is. The check runs on every call, so a campaign
// initialized after startup is picked up by the next refresh.
type LiveInfoProvider struct {
	Contract contract.Reader
	Fallback InfoProvider

	usedFallback atomic.Bool
}

func (p *LiveInfoProvider) CampaignInfo(ctx context.Context) (campaign.Info, error) {
	initialized, err := p.Contract.Initialized(ctx)
	if err != nil {
		return campaign.Info{}, fmt.Errorf("%s: %w", contract.MethodGetIsAlreadyInit, err)
	}
	if !initialized {
		p.usedFallback.Store(true)
		return p.Fallback.CampaignInfo(ctx)
	}
	p.usedFallback.Store(false)
	return p.Contract.CampaignInfo(ctx)
}

// Source reports where the latest CampaignInfo call got its answer.
func (p *LiveInfoProvider) Source() string {
	if p.usedFallback.Load() {
		return p.Fallback.Source()
	}
	return FullInfoProvider{}.Source()
}

// SelectInfoProvider decides once, from the deployed contract's capabilities,
// how campaign info is read for the life of the process. A deployment without
// get_campaign_info always uses the defaults; otherwise the live provider
// checks initialization on each refresh. A transport failure during the probe
// is returned.
func SelectInfoProvider(ctx context.Context, c contract.Reader, defaults Defaults, now func() time.Time, log logrus.FieldLogger) (InfoProvider, error) {
	fallback := DefaultsInfoProvider{Defaults: defaults, Now: now}

	prober, ok := c.(contract.CapabilityProber)
	if !ok {
		log.Info("contract client cannot probe capabilities, using full campaign info")
		return FullInfoProvider{Contract: c}, nil
	}
	supported, err := prober.Supports(ctx, contract.MethodGetCampaignInfo)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", contract.MethodGetCampaignInfo, err)
	}
	if !supported {
		log.WithField("method", contract.MethodGetCampaignInfo).Warn("entry point unavailable, using configured campaign defaults")
		return fallback, nil
	}
	return &LiveInfoProvider{Contract: c, Fallback: fallback}, nil
}
