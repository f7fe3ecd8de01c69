package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"crowdfund/internal/actions"
	"crowdfund/internal/campaign"
	"crowdfund/internal/idempotency"
	"crowdfund/internal/session"
	"crowdfund/internal/submitter"
	"crowdfund/internal/units"
)

const (
	routeDonations   = "donations"
	routeWithdrawals = "withdrawals"
	routeRefunds     = "refunds"
	routeCampaigns   = "campaigns"

	headerIdempotencyKey = "X-Idempotency-Key"
	headerReplayed       = "X-Idempotency-Replayed"
)

type amountJSON struct {
	Base    uint64 `json:"base"`
	Display string `json:"display"`
}

func amount(a units.Amount, precision int) amountJSON {
	return amountJSON{Base: uint64(a), Display: units.ToDisplay(a, precision)}
}

type campaignResponse struct {
	Caller         string `json:"caller"`
	Connected      bool   `json:"connected"`
	InfoSource     string `json:"infoSource"`
	InfoAvailable  bool   `json:"infoAvailable"`
	TotalAvailable bool   `json:"totalAvailable"`
	Complete       bool   `json:"complete"`

	Owner       string     `json:"owner,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	Goal        amountJSON `json:"goal"`
	Deadline    time.Time  `json:"deadline"`
	Status      string     `json:"status"`
	MinDonation amountJSON `json:"minDonation"`

	TotalRaised         amountJSON `json:"totalRaised"`
	PreviousTotalRaised amountJSON `json:"previousTotalRaised"`
	Added               amountJSON `json:"added"`
	CallerDonation      amountJSON `json:"callerDonation"`
	ProgressPercent     float64    `json:"progressPercent"`

	IsDeadlinePassed bool `json:"isDeadlinePassed"`
	IsGoalReached    bool `json:"isGoalReached"`
	CanDonate        bool `json:"canDonate"`
	CanWithdraw      bool `json:"canWithdraw"`
	CanRefund        bool `json:"canRefund"`

	RefreshedAt time.Time `json:"refreshedAt"`
}

func newCampaignResponse(v session.View) campaignResponse {
	return campaignResponse{
		Caller:         v.Caller,
		Connected:      v.Connected,
		InfoSource:     v.InfoSource,
		InfoAvailable:  v.InfoAvailable,
		TotalAvailable: v.TotalAvailable,
		Complete:       v.Complete,

		Owner:       v.Info.Owner,
		Title:       v.Info.Title,
		Description: v.Info.Description,
		ImageURL:    v.Info.ImageURL,
		Goal:        amount(v.Info.Goal, units.DisplayPrecision),
		Deadline:    v.Info.Deadline,
		Status:      v.Derived.StatusLabel,
		MinDonation: amount(v.Info.MinDonation, units.FullPrecision),

		TotalRaised:         amount(v.Snapshot.TotalRaised, units.DisplayPrecision),
		PreviousTotalRaised: amount(v.Snapshot.PreviousTotalRaised, units.DisplayPrecision),
		Added:               amount(v.Snapshot.Delta(), units.FullPrecision),
		CallerDonation:      amount(v.Snapshot.CallerDonation, units.FullPrecision),
		ProgressPercent:     v.Snapshot.ProgressPercent,

		IsDeadlinePassed: v.Derived.IsDeadlinePassed,
		IsGoalReached:    v.Derived.IsGoalReached,
		CanDonate:        v.Derived.CanDonate,
		CanWithdraw:      v.Derived.CanWithdraw,
		CanRefund:        v.Derived.CanRefund,

		RefreshedAt: v.RefreshedAt,
	}
}

type donorJSON struct {
	Donor  string     `json:"donor"`
	Amount amountJSON `json:"amount"`
}

type donorsResponse struct {
	Donors          []donorJSON `json:"donors"`
	ProgressPercent float64     `json:"progressPercent"`
}

type submissionResponse struct {
	Method   string            `json:"method"`
	Outcome  string            `json:"outcome"`
	TxHash   string            `json:"txHash,omitempty"`
	Campaign *campaignResponse `json:"campaign,omitempty"`
}

type errorResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	TxHash      string `json:"txHash,omitempty"`
	ID          string `json:"id"`
}

type donationRequest struct {
	Amount string `json:"amount"`
}

type campaignRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"imageUrl"`
	Goal        string    `json:"goal"`
	Deadline    time.Time `json:"deadline"`
	MinDonation string    `json:"minDonation"`
}

func (s *Server) handleCampaign(w http.ResponseWriter, r *http.Request) {
	view := s.deps.Session.Refresh(r.Context())
	writeJSON(w, http.StatusOK, newCampaignResponse(view))
}

func (s *Server) handleDonors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	donors, err := s.deps.Reader.FetchDonors(ctx)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}
	progress, err := s.deps.Reader.FetchChainProgress(ctx)
	if err != nil {
		s.writeError(w, r, err, "")
		return
	}

	resp := donorsResponse{Donors: make([]donorJSON, 0, len(donors)), ProgressPercent: progress}
	for _, d := range donors {
		resp.Donors = append(resp.Donors, donorJSON{Donor: d.Donor, Amount: amount(d.Amount, units.FullPrecision)})
	}
	writeJSON(w, http.StatusOK, resp)
}

// submitFunc runs one submission request. It returns the result when the
// request reached the submitter.
type submitFunc func(r *http.Request) (submitter.Result, error)

// idempotent answers a repeated X-Idempotency-Key from the store. A response
// is stored once the request reached a terminal submission or a broadcast
// transaction, so a replay never duplicates intent. Requests refused before
// broadcast are not stored and may be retried with the same key.
func (s *Server) idempotent(route string, fn submitFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientKey := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
		if clientKey == "" {
			s.metrics.incRejected(route, "missing_idempotency_key")
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Code:        "MISSING_IDEMPOTENCY_KEY",
				Description: "missing " + headerIdempotencyKey + " header",
				ID:          uuid.NewString(),
			})
			return
		}

		ctx := r.Context()
		key := idempotency.Key(route, clientKey)
		existing, err := s.deps.Store.Get(ctx, key)
		if err != nil {
			s.requestLogger(r).WithError(err).Warn("idempotency lookup failed")
		}
		if existing != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(headerReplayed, "true")
			w.WriteHeader(existing.StatusCode)
			_, _ = w.Write(existing.Response)
			s.metrics.incReplay(route)
			return
		}

		res, err := fn(r)
		defer s.updateFailureLogDepth()

		var (
			status int
			body   any
		)
		if err != nil {
			status = statusFor(err)
			body = s.errorBody(r, err, res.TxHash)
			if campaign.IsValidation(err) || errors.Is(err, campaign.ErrNotConnected) || errors.Is(err, campaign.ErrReadFailure) {
				s.metrics.incRejected(route, campaign.Kind(err))
			}
		} else {
			status = http.StatusCreated
			view := newCampaignResponse(s.deps.Session.Last())
			body = submissionResponse{Method: res.Method, Outcome: res.Outcome.String(), TxHash: res.TxHash, Campaign: &view}
		}

		blob, err := json.Marshal(body)
		if err != nil {
			http.Error(w, "encode response", http.StatusInternalServerError)
			return
		}

		if res.Outcome == submitter.OutcomeConfirmed || res.TxHash != "" || errors.Is(res.Err, campaign.ErrContractRejected) {
			now := s.now()
			record := idempotency.Record{
				Route:      route,
				StatusCode: status,
				Response:   blob,
				TxHash:     res.TxHash,
				CreatedAt:  now,
				ExpiresAt:  now.Add(s.cfg.Service.IdempotencyWindow),
			}
			if err := s.deps.Store.Save(ctx, key, record); err != nil {
				s.requestLogger(r).WithError(err).Error("idempotency save failed")
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(blob)
	}
}

func (s *Server) donate(r *http.Request) (submitter.Result, error) {
	var payload donationRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return submitter.Result{}, errBadPayload
	}
	// Campaign parameters are read fresh for every donation.
	view := s.deps.Session.Refresh(r.Context())
	if !view.InfoAvailable {
		return submitter.Result{}, errInfoUnavailable
	}
	return s.deps.Actions.Donate(r.Context(), view.Info, payload.Amount)
}

func (s *Server) withdraw(r *http.Request) (submitter.Result, error) {
	return s.deps.Actions.Withdraw(r.Context())
}

func (s *Server) refund(r *http.Request) (submitter.Result, error) {
	return s.deps.Actions.Refund(r.Context())
}

func (s *Server) createCampaign(r *http.Request) (submitter.Result, error) {
	var payload campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return submitter.Result{}, errBadPayload
	}
	return s.deps.Actions.Initialize(r.Context(), actions.CampaignParams{
		Title:       payload.Title,
		Description: payload.Description,
		ImageURL:    payload.ImageURL,
		Goal:        payload.Goal,
		Deadline:    payload.Deadline,
		MinDonation: payload.MinDonation,
	})
}

var (
	errBadPayload      = errors.New("invalid json payload")
	errInfoUnavailable = fmt.Errorf("%w: campaign info unavailable", campaign.ErrReadFailure)
)

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadPayload), campaign.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, campaign.ErrSubmissionInFlight):
		return http.StatusConflict
	case errors.Is(err, campaign.ErrSignatureDeclined):
		return http.StatusForbidden
	case errors.Is(err, campaign.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.Is(err, campaign.ErrContractRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, campaign.ErrNetworkError), errors.Is(err, campaign.ErrReadFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) errorBody(r *http.Request, err error, txHash string) errorResponse {
	code := "BAD_PAYLOAD"
	if !errors.Is(err, errBadPayload) {
		code = strings.ToUpper(campaign.Kind(err))
	}
	resp := errorResponse{
		Code:        code,
		Description: err.Error(),
		TxHash:      txHash,
		ID:          uuid.NewString(),
	}
	if statusFor(err) >= http.StatusInternalServerError {
		s.requestLogger(r).WithError(err).WithField("error_id", resp.ID).Warn("request failed")
	}
	return resp
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, txHash string) {
	writeJSON(w, statusFor(err), s.errorBody(r, err, txHash))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func routeOf(r *http.Request) string {
	return path.Base(r.URL.Path)
}
