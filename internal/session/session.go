// Package session holds the working copy of one campaign view and reconciles
// it with the contract.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"crowdfund/internal/campaign"
	"crowdfund/internal/reader"
	"crowdfund/internal/units"
	"crowdfund/internal/wallet"
)

// Fields reported to the Observer when a reconciliation read fails.
const (
	FieldTotalRaised    = "total_raised"
	FieldCallerDonation = "caller_donation"
	FieldCampaignInfo   = "campaign_info"
)

// Observer is notified of reconciliation read failures.
type Observer interface {
	ReadFailed(field string)
}

// View is the result of one reconciliation.
type View struct {
	Caller     string
	Connected  bool
	Info       campaign.Info
	InfoSource string
	// InfoAvailable is false when the campaign info read failed and Info holds
	// zero values.
	InfoAvailable bool
	// TotalAvailable is false when the total read failed and the snapshot
	// reports zero.
	TotalAvailable bool
	// Complete is true when every read of the refresh succeeded.
	Complete    bool
	Snapshot    campaign.Snapshot
	Derived     campaign.DerivedView
	RefreshedAt time.Time
}

// Session owns the snapshot of one viewer. It is safe for concurrent use;
// refreshes are serialized.
type Session struct {
	reader   *reader.Reader
	wallet   wallet.Wallet
	now      func() time.Time
	log      logrus.FieldLogger
	observer Observer

	mu        sync.Mutex
	lastTotal units.Amount
	view      View
	refreshes int
}

type Option func(*Session)

func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Session) { s.log = log }
}

func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

func New(r *reader.Reader, w wallet.Wallet, opts ...Option) *Session {
	if w == nil {
		w = wallet.None{}
	}
	s := &Session{
		reader: r,
		wallet: w,
		now:    time.Now,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh reads the total, the caller's donation and the campaign info
// concurrently and applies all three before returning the new view. A failed
// read is logged and its field falls back to zero; the rest of the view is
// still produced.
func (s *Session) Refresh(ctx context.Context) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller := s.wallet.Address()
	connected := s.wallet.IsConnected() && caller != wallet.Disconnected

	var (
		total             units.Amount
		donation          units.Amount
		info              campaign.Info
		totalErr, infoErr error
		donationErr       error
	)

	// The group has no shared context, so a failed read never cancels the
	// others. Wait reports the first failure.
	var g errgroup.Group
	g.Go(func() error {
		total, totalErr = s.reader.FetchTotalRaised(ctx)
		return totalErr
	})
	if connected {
		g.Go(func() error {
			donation, donationErr = s.reader.FetchCallerDonation(ctx, caller)
			return donationErr
		})
	}
	g.Go(func() error {
		info, infoErr = s.reader.FetchCampaignInfo(ctx)
		return infoErr
	})
	incomplete := g.Wait()

	snapshot := campaign.Snapshot{PreviousTotalRaised: s.lastTotal}
	if totalErr != nil {
		s.readFailed(FieldTotalRaised, totalErr)
	} else {
		snapshot.TotalRaised = total
		s.lastTotal = total
	}
	if donationErr != nil {
		s.readFailed(FieldCallerDonation, donationErr)
		donation = 0
	}
	snapshot.CallerDonation = donation
	if infoErr != nil {
		s.readFailed(FieldCampaignInfo, infoErr)
		info = campaign.Info{}
	}

	now := s.now()
	derived := campaign.DeriveView(info, snapshot, now)
	if infoErr != nil {
		// Zero-valued info must not unlock anything.
		derived = campaign.DerivedView{ProgressPercent: derived.ProgressPercent}
	}
	snapshot.ProgressPercent = derived.ProgressPercent

	s.refreshes++
	s.view = View{
		Caller:         caller,
		Connected:      connected,
		Info:           info,
		InfoSource:     s.reader.InfoSource(),
		InfoAvailable:  infoErr == nil,
		TotalAvailable: totalErr == nil,
		Complete:       incomplete == nil,
		Snapshot:       snapshot,
		Derived:        derived,
		RefreshedAt:    now,
	}
	return s.view
}

// AfterConfirmed runs the single reconciliation that follows a confirmed
// submission.
func (s *Session) AfterConfirmed(ctx context.Context, txHash string) View {
	view := s.Refresh(ctx)
	entry := s.log.WithField("tx", txHash)
	if delta := view.Snapshot.Delta(); delta > 0 {
		entry = entry.WithField("added", units.ToDisplay(delta, units.FullPrecision))
	}
	entry.Info("campaign reconciled after confirmation")
	return view
}

// Last returns the most recent view without reading the contract.
func (s *Session) Last() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Refreshes counts completed reconciliations.
func (s *Session) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

func (s *Session) readFailed(field string, err error) {
	s.log.WithError(err).WithField("field", field).Warn("reconciliation read failed")
	if s.observer != nil {
		s.observer.ReadFailed(field)
	}
}
