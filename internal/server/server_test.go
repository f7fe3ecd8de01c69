package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdfund/internal/actions"
	"crowdfund/internal/campaign"
	"crowdfund/internal/config"
	"crowdfund/internal/contract"
	"crowdfund/internal/hmacauth"
	"crowdfund/internal/idempotency"
	"crowdfund/internal/reader"
	"crowdfund/internal/session"
	"crowdfund/internal/submitter"
	"crowdfund/internal/wallet"
)

const (
	testSecret = "test-secret"
	testOwner  = "0x1111111111111111111111111111111111111111"
	testDonor  = "0x2222222222222222222222222222222222222222"
	testToken  = "0x3333333333333333333333333333333333333333"
)

type harness struct {
	srv     *Server
	fake    *contract.FakeContract
	metrics *Metrics
	failDir string
}

func newHarness(t *testing.T, w wallet.Wallet) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	network := contract.Network{Name: "testnet", Passphrase: "Test Network", ChainID: 1337}
	fake := contract.NewFakeContract(network, campaign.Info{
		Owner:       testOwner,
		Title:       "Village well",
		Goal:        1_000_000_000,
		Deadline:    time.Now().Add(24 * time.Hour),
		Status:      campaign.StatusActive,
		MinDonation: 1_000_000,
	}, nil)

	failDir := t.TempDir()
	cfg := &config.AppConfig{
		Network: config.NetworkConfig{Name: network.Name, Passphrase: network.Passphrase, ChainID: network.ChainID},
		Service: config.ServiceConfig{
			HMACSecret:        testSecret,
			HMACClockSkew:     time.Minute,
			IdempotencyWindow: time.Minute,
			FailureLogPath:    failDir,
		},
	}

	metrics := NewMetrics()
	failures := NewFailureLog(failDir, logger)
	rd := reader.New(fake, nil)
	sess := session.New(rd, w, session.WithLogger(logger), session.WithObserver(metrics))
	sub := submitter.New(fake, w,
		submitter.WithLogger(logger),
		submitter.WithPollInterval(time.Millisecond),
		submitter.WithConfirmTimeout(time.Second),
		submitter.WithObserver(metrics),
		submitter.WithOnSuccess(func(ctx context.Context, res submitter.Result) {
			sess.AfterConfirmed(ctx, res.TxHash)
		}),
		submitter.WithOnError(failures.Record),
	)
	acts := actions.New(w, sub, testToken, actions.WithLogger(logger))

	srv := NewServer(cfg, Deps{
		Session:    sess,
		Reader:     rd,
		Actions:    acts,
		Submitter:  sub,
		Store:      idempotency.NewMemoryStore(),
		FailureLog: failures,
		Metrics:    metrics,
		Contract:   fake,
	}, logger)

	return &harness{srv: srv, fake: fake, metrics: metrics, failDir: failDir}
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func signedPost(t *testing.T, path, key string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return signedRaw(path, key, body)
}

func signedRaw(path, key string, body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(hmacauth.DefaultTimestampHeader, ts)
	req.Header.Set(hmacauth.DefaultSignatureHeader, hmacauth.Sign(testSecret, hmacauth.Submission{
		Timestamp:      ts,
		Method:         http.MethodPost,
		Path:           path,
		IdempotencyKey: key,
		Body:           body,
	}))
	if key != "" {
		req.Header.Set(headerIdempotencyKey, key)
	}
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCampaignView(t *testing.T) {
	h := newHarness(t, wallet.FakeWallet{Account: testDonor})
	h.fake.SetDonation(testOwner, 50_000_000)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/campaign", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	view := decode[campaignResponse](t, rec)
	assert.Equal(t, testDonor, view.Caller)
	assert.Equal(t, "Village well", view.Title)
	assert.Equal(t, "Active", view.Status)
	assert.Equal(t, 5.0, view.ProgressPercent)
	assert.Equal(t, "5.00", view.TotalRaised.Display)
	assert.EqualValues(t, 50_000_000, view.TotalRaised.Base)
	assert.Equal(t, "0.1000000", view.MinDonation.Display)
	assert.True(t, view.CanDonate)
	assert.False(t, view.IsGoalReached)
}

func TestDonationIdempotency(t *testing.T) {
	h := newHarness(t, wallet.FakeWallet{Account: testDonor})

	rec := h.do(signedPost(t, "/api/v1/donations", "key-1", donationRequest{Amount: "5"}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := rec.Body.Bytes()

	resp := decode[submissionResponse](t, rec)
	assert.Equal(t, campaign.MethodDonate, resp.Method)
	assert.Equal(t, "confirmed", resp.Outcome)
	assert.NotEmpty(t, resp.TxHash)
	require.NotNil(t, resp.Campaign)
	assert.EqualValues(t, 50_000_000, resp.Campaign.TotalRaised.Base)
	assert.Equal(t, "5.0000000", resp.Campaign.Added.Display)
	assert.Equal(t, "5.0000000", resp.Campaign.CallerDonation.Display)

	rec2 := h.do(signedPost(t, "/api/v1/donations", "key-1", donationRequest{Amount: "5"}))
	require.Equal(t, http.StatusCreated, rec2.Code)
	assert.Equal(t, "true", rec2.Header().Get(headerReplayed))
	assert.True(t, bytes.Equal(first, rec2.Body.Bytes()), "expected same response body on idempotent request")
	assert.Equal(t, 1, h.fake.Calls(campaign.MethodDonate))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.replaysTotal.WithLabelValues(routeDonations)))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.submissionsTotal.WithLabelValues(campaign.MethodDonate, "confirmed", "none")))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.inFlight))

	// The same key on another route is a different request.
	rec3 := h.do(signedPost(t, "/api/v1/refunds", "key-1", struct{}{}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec3.Code)
	assert.Empty(t, rec3.Header().Get(headerReplayed))
}

func TestDonationBelowMinimumIsNotStored(t *testing.T) {
	h := newHarness(t, wallet.FakeWallet{Account: testDonor})

	rec := h.do(signedPost(t, "/api/v1/donations", "key-2", donationRequest{Amount: "0.05"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[errorResponse](t, rec)
	assert.Equal(t, "BELOW_MINIMUM", errResp.Code)
	assert.NotEmpty(t, errResp.ID)
	assert.Zero(t, h.fake.Calls(campaign.MethodDonate))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.rejectedTotal.WithLabelValues(routeDonations, "below_minimum")))

	rec = h.do(signedPost(t, "/api/v1/donations", "key-2", donationRequest{Amount: "0.5"}))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestDonationRequestErrors(t *testing.T) {
	h := newHarness(t, wallet.FakeWallet{Account: testDonor})

	rec := h.do(signedPost(t, "/api/v1/donations", "", donationRequest{Amount: "5"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_IDEMPOTENCY_KEY", decode[errorResponse](t, rec).Code)

	req := signedPost(t, "/api/v1/donations", "key-3", donationRequest{Amount: "5"})
	req.Header.Set(hmacauth.DefaultSignatureHeader, "deadbeef")
	rec = h.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", decode[errorResponse](t, rec).Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.rejectedTotal.WithLabelValues(routeDonations, "invalid_signature")))

	// A signature is bound to its idempotency key.
	req = signedPost(t, "/api/v1/donations", "key-3", donationRequest{Amount: "5"})
	req.Header.Set(headerIdempotencyKey, "key-3b")
	rec = h.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(signedRaw("/api/v1/donations", "key-4", []byte("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_PAYLOAD", decode[errorResponse](t, rec).Code)

	assert.Zero(t, h.fake.Calls(campaign.MethodDonate))
}

func TestDonationReadFailure(t *testing.T) {
	h := newHarness(t, wallet.FakeWallet{Account: testDonor})
	h.fake.ReadErr = assert.AnError

	rec := h.do(signedPost(t, "/api/v1/donations", "key-5", donationRequest{Amount: "5"}))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "READ_FAILURE", decode[errorResponse](t, rec).Code)
	assert.Zero(t, h.fake.Calls(campaign.MethodDonate))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.readFailuresTotal.WithLabelValues(session.FieldTotalRaised)))
}

func TestContractRejectionGoesToFailureLog(t *testing.T) {
	h := newHarness(t, wallet.FakeWallet{Account: testDonor})
	h.fake.Reject[campaign.MethodDonate] = "Campaign is not active"

	rec := h.do(signedPost(t, "/api/v1/donations", "key-6", donationRequest{Amount: "5"}))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errResp := decode[errorResponse](t, rec)
	assert.Equal(t, "CONTRACT_REJECTED", errResp.Code)
	assert.Contains(t, errResp.Description, "Campaign is not active")
	assert.NotEmpty(t, errResp.TxHash)

	entries, err := os.ReadDir(h.failDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	blob, err := os.ReadFile(filepath.Join(h.failDir, entries[0].Name()))
	require.NoError(t, err)
	var entry failureEntry
	require.NoError(t, json.Unmarshal(blob, &entry))
	assert.Equal(t, campaign.MethodDonate, entry.Method)
	assert.Equal(t, "contract_rejected", entry.Kind)
	assert.Equal(t, errResp.TxHash, entry.TxHash)
	assert.NotEmpty(t, entry.RequestID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.failureLogDepth))

	// A broadcast transaction is never resubmitted under the same key.
	rec = h.do(signedPost(t, "/api/v1/donations", "key-6", donationRequest{Amount: "5"}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(headerReplayed))
	assert.Equal(t, 1, h.fake.Calls(campaign.MethodDonate))
}

func TestSubmissionStatusMapping(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		h := newHarness(t, wallet.None{})
		rec := h.do(signedPost(t, "/api/v1/withdrawals", "key-7", struct{}{}))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "NOT_CONNECTED", decode[errorResponse](t, rec).Code)
	})
	t.Run("signature declined", func(t *testing.T) {
		h := newHarness(t, wallet.FakeWallet{Account: testOwner, Decline: true})
		rec := h.do(signedPost(t, "/api/v1/withdrawals", "key-8", struct{}{}))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "SIGNATURE_DECLINED", decode[errorResponse](t, rec).Code)
	})
	t.Run("network error", func(t *testing.T) {
		h := newHarness(t, wallet.FakeWallet{Account: testDonor})
		h.fake.BroadcastErr = assert.AnError
		rec := h.do(signedPost(t, "/api/v1/refunds", "key-9", struct{}{}))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "NETWORK_ERROR", decode[errorResponse](t, rec).Code)
	})
}

func TestCreateCampaign(t *testing.T) {
	h := newHarness(t, wallet.FakeWallet{Account: testOwner})

	rec := h.do(signedPost(t, "/api/v1/campaigns", "key-10", campaignRequest{
		Title: "School roof", Goal: "10", Deadline: time.Now().Add(-time.Hour),
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_CAMPAIGN_PARAMETERS", decode[errorResponse](t, rec).Code)

	rec = h.do(signedPost(t, "/api/v1/campaigns", "key-11", campaignRequest{
		Title:       "School roof",
		Description: "New roof before the rains",
		Goal:        "250",
		Deadline:    time.Now().Add(7 * 24 * time.Hour),
		MinDonation: "1",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[submissionResponse](t, rec)
	require.NotNil(t, resp.Campaign)
	assert.Equal(t, "School roof", resp.Campaign.Title)
	assert.EqualValues(t, 2_500_000_000, resp.Campaign.Goal.Base)
	assert.Equal(t, "1.0000000", resp.Campaign.MinDonation.Display)
}

func TestDonors(t *testing.T) {
	h := newHarness(t, wallet.None{})
	h.fake.SetDonation(testDonor, 250_000_000)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/donors", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[donorsResponse](t, rec)
	require.Len(t, resp.Donors, 1)
	assert.Equal(t, testDonor, resp.Donors[0].Donor)
	assert.Equal(t, "25.0000000", resp.Donors[0].Amount.Display)
	assert.Equal(t, 25.0, resp.ProgressPercent)

	h.fake.ReadErr = assert.AnError
	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/donors", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, wallet.None{})

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "idle", body["submission"])
	assert.Equal(t, "testnet", body["network"])

	h.fake.ReadErr = assert.AnError
	rec = h.do(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", decode[map[string]any](t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, wallet.FakeWallet{Account: testDonor})
	require.Equal(t, http.StatusCreated, h.do(signedPost(t, "/api/v1/donations", "key-12", donationRequest{Amount: "1"})).Code)

	rec := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `crowdfund_submissions_total{kind="none",method="donate",outcome="confirmed"} 1`)
}
