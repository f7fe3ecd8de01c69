package contract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"crowdfund/internal/campaign"
	"crowdfund/internal/units"
)

// Pseudo-methods counted by FakeContract alongside the contract entry points.
const (
	FakeCallBroadcast = "broadcast"
	FakeCallStatus    = "status"
)

// FakeContract keeps campaign state in memory and settles transactions
// locally. It backs tests and runs without a node.
type FakeContract struct {
	mu sync.Mutex

	network     Network
	now         func() time.Time
	info        campaign.Info
	initialized bool
	total       units.Amount
	donations   map[string]units.Amount
	donors      []string
	envelopes   map[string]campaign.Operation
	txs         map[string]*fakeTx
	calls       map[string]int
	seq         int

	// Partial hides get_campaign_info, as an older deployment would.
	Partial bool
	// PendingPolls is how many status polls report pending before a
	// transaction settles.
	PendingPolls int
	ReadErr      error
	BuildErr     error
	BroadcastErr error
	StatusErr    error
	// Reject makes the named entry point fail on chain with the given detail.
	Reject map[string]string
}

type fakeTx struct {
	op     campaign.Operation
	polls  int
	status *TxStatus
}

// NewFakeContract returns a fake holding an initialized campaign described by
// info. A zero-valued info leaves the campaign uninitialized.
func NewFakeContract(network Network, info campaign.Info, now func() time.Time) *FakeContract {
	if now == nil {
		now = time.Now
	}
	return &FakeContract{
		network:     network,
		now:         now,
		info:        info,
		initialized: info.Goal > 0,
		donations:   make(map[string]units.Amount),
		envelopes:   make(map[string]campaign.Operation),
		txs:         make(map[string]*fakeTx),
		calls:       make(map[string]int),
		Reject:      make(map[string]string),
	}
}

// Calls reports how often method was invoked.
func (f *FakeContract) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// SetDonation seeds a donor record and adjusts the total.
func (f *FakeContract) SetDonation(donor string, amount units.Amount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credit(donor, amount)
}

func (f *FakeContract) begin(method string) error {
	f.mu.Lock()
	f.calls[method]++
	return f.ReadErr
}

func (f *FakeContract) TotalRaised(_ context.Context) (units.Amount, error) {
	err := f.begin(MethodGetTotalRaised)
	defer f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.total, nil
}

func (f *FakeContract) Donation(_ context.Context, donor string) (units.Amount, error) {
	err := f.begin(MethodGetDonation)
	defer f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	amount, ok := f.donations[donor]
	if !ok {
		return 0, fmt.Errorf("%s %s: %w", MethodGetDonation, donor, ErrNoRecord)
	}
	return amount, nil
}

func (f *FakeContract) CampaignInfo(_ context.Context) (campaign.Info, error) {
	err := f.begin(MethodGetCampaignInfo)
	defer f.mu.Unlock()
	if f.Partial {
		return campaign.Info{}, &RejectedError{Reason: "unknown entry point " + MethodGetCampaignInfo}
	}
	if err != nil {
		return campaign.Info{}, err
	}
	if !f.initialized {
		return campaign.Info{}, &RejectedError{Reason: "campaign not initialized"}
	}
	return f.info, nil
}

func (f *FakeContract) MinDonation(_ context.Context) (units.Amount, error) {
	err := f.begin(MethodGetMinDonation)
	defer f.mu.Unlock()
	return f.info.MinDonation, err
}

func (f *FakeContract) DeadlinePassed(_ context.Context) (bool, error) {
	err := f.begin(MethodIsDeadlinePassed)
	defer f.mu.Unlock()
	return f.now().After(f.info.Deadline), err
}

func (f *FakeContract) CampaignStatus(_ context.Context) (campaign.Status, error) {
	err := f.begin(MethodGetCampaignStatus)
	defer f.mu.Unlock()
	return f.info.Status, err
}

func (f *FakeContract) ProgressBasisPoints(_ context.Context) (uint32, error) {
	err := f.begin(MethodGetProgress)
	defer f.mu.Unlock()
	if err != nil || f.info.Goal == 0 {
		return 0, err
	}
	bp := uint64(f.total) * progressBasisPointsScale / uint64(f.info.Goal)
	if bp > progressBasisPointsScale {
		bp = progressBasisPointsScale
	}
	return uint32(bp), nil
}

func (f *FakeContract) Donors(_ context.Context) ([]campaign.Donation, error) {
	err := f.begin(MethodGetAllDonors)
	defer f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]campaign.Donation, 0, len(f.donors))
	for _, d := range f.donors {
		out = append(out, campaign.Donation{Donor: d, Amount: f.donations[d]})
	}
	return out, nil
}

func (f *FakeContract) Initialized(_ context.Context) (bool, error) {
	err := f.begin(MethodGetIsAlreadyInit)
	defer f.mu.Unlock()
	return f.initialized, err
}

// Ping fails with ReadErr, standing in for an unreachable node.
func (f *FakeContract) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ReadErr
}

func (f *FakeContract) Supports(_ context.Context, method string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return false, f.ReadErr
	}
	if method == MethodGetCampaignInfo {
		return !f.Partial, nil
	}
	return true, nil
}

func (f *FakeContract) Build(_ context.Context, op campaign.Operation) (Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op.Method()]++
	if f.BuildErr != nil {
		return Envelope{}, f.BuildErr
	}
	f.seq++
	id := fmt.Sprintf("%s-%d", op.Method(), f.seq)
	f.envelopes[id] = op
	return Envelope{
		Method:            op.Method(),
		Source:            op.Source(),
		NetworkPassphrase: f.network.Passphrase,
		Raw:               []byte(id),
	}, nil
}

func (f *FakeContract) Broadcast(_ context.Context, signed SignedEnvelope) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[FakeCallBroadcast]++
	if f.BroadcastErr != nil {
		return "", f.BroadcastErr
	}
	if signed.NetworkPassphrase != f.network.Passphrase {
		return "", fmt.Errorf("%w: %q", ErrWrongNetwork, signed.NetworkPassphrase)
	}
	op, ok := f.envelopes[string(signed.Raw)]
	if !ok {
		return "", &RejectedError{Reason: "unknown envelope"}
	}
	delete(f.envelopes, string(signed.Raw))

	hash := signed.Hash
	if hash == "" {
		hash = fakeHash(string(signed.Raw))
	}
	f.txs[hash] = &fakeTx{op: op}
	return hash, nil
}

func (f *FakeContract) TransactionStatus(_ context.Context, hash string) (TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[FakeCallStatus]++
	if f.StatusErr != nil {
		return TxStatus{}, f.StatusErr
	}
	tx, ok := f.txs[hash]
	if !ok {
		return TxStatus{State: TxPending}, nil
	}
	if tx.status != nil {
		return *tx.status, nil
	}
	if tx.polls < f.PendingPolls {
		tx.polls++
		return TxStatus{State: TxPending}, nil
	}
	status := TxStatus{State: TxSuccess}
	if reason := f.apply(tx.op); reason != "" {
		status = TxStatus{State: TxFailed, Detail: reason}
	}
	tx.status = &status
	return status, nil
}

// apply settles op against the in-memory campaign and returns the failure
// reason, if any. State is left untouched on failure.
func (f *FakeContract) apply(op campaign.Operation) string {
	if reason, ok := f.Reject[op.Method()]; ok {
		return reason
	}
	now := f.now()
	deadlinePassed := now.After(f.info.Deadline)

	switch o := op.(type) {
	case campaign.Donate:
		switch {
		case deadlinePassed:
			return "Campaign has ended"
		case f.info.Status != campaign.StatusActive:
			return "Campaign is not active"
		case o.Amount == 0:
			return "Donation amount must be positive"
		case o.Amount < f.info.MinDonation:
			return "Donation below minimum amount"
		}
		f.credit(o.Donor, o.Amount)
		if f.total >= f.info.Goal {
			f.info.Status = campaign.StatusSuccessful
		}
	case campaign.Withdraw:
		switch {
		case o.Owner != f.info.Owner:
			return "Only campaign owner can withdraw"
		case f.info.Status == campaign.StatusWithdrawn:
			return "Funds already withdrawn"
		case f.info.Status != campaign.StatusSuccessful && !deadlinePassed:
			return "Campaign must be successful or deadline must have passed"
		case f.info.Status == campaign.StatusActive && f.total < f.info.Goal:
			return "Campaign failed to reach goal"
		}
		f.info.Status = campaign.StatusWithdrawn
	case campaign.Refund:
		status := f.info.Status
		if deadlinePassed && status == campaign.StatusActive {
			status = campaign.StatusFailed
			if f.total >= f.info.Goal {
				status = campaign.StatusSuccessful
			}
		}
		if status != campaign.StatusFailed {
			return "Refunds only available for failed campaigns"
		}
		amount := f.donations[o.Donor]
		if amount == 0 {
			return "No donation found for this address"
		}
		f.info.Status = status
		f.total -= amount
		delete(f.donations, o.Donor)
		for i, d := range f.donors {
			if d == o.Donor {
				f.donors = append(f.donors[:i], f.donors[i+1:]...)
				break
			}
		}
	case campaign.Initialize:
		switch {
		case o.Goal == 0:
			return "Goal must be positive"
		case !o.Deadline.After(now):
			return "Deadline must be in the future"
		}
		f.info = campaign.Info{
			Owner:       o.Owner,
			Title:       o.Title,
			Description: o.Description,
			ImageURL:    o.ImageURL,
			Goal:        o.Goal,
			Deadline:    o.Deadline,
			Status:      campaign.StatusActive,
			MinDonation: o.MinDonation,
		}
		f.initialized = true
		f.total = 0
		f.donations = make(map[string]units.Amount)
		f.donors = nil
	default:
		return fmt.Sprintf("unsupported operation %T", op)
	}
	return ""
}

func (f *FakeContract) credit(donor string, amount units.Amount) {
	if _, ok := f.donations[donor]; !ok {
		f.donors = append(f.donors, donor)
	}
	f.donations[donor] += amount
	f.total += amount
}

func fakeHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return "0x" + hex.EncodeToString(sum[:])
}
