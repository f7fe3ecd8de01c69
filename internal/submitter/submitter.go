// Package submitter drives one operation through build, sign, broadcast and
// confirmation.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"crowdfund/internal/campaign"
	"crowdfund/internal/contract"
	"crowdfund/internal/wallet"
)

const (
	defaultPollInterval   = 2 * time.Second
	defaultConfirmTimeout = 2 * time.Minute
)

// State is the lifecycle position of the current submission.
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateSigning
	StateBroadcasting
	StateConfirming
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateSigning:
		return "signing"
	case StateBroadcasting:
		return "broadcasting"
	case StateConfirming:
		return "confirming"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is the terminal result of a submission.
type Outcome int

const (
	OutcomeConfirmed Outcome = iota + 1
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeFailed:
		return "failed"
	default:
		return "none"
	}
}

// Result is the tagged terminal result. Err is nil exactly when Outcome is
// OutcomeConfirmed. TxHash is set once the envelope was broadcast.
type Result struct {
	Method  string
	Outcome Outcome
	TxHash  string
	Err     error
}

// Observer receives lifecycle events, typically for metrics.
type Observer interface {
	Started(method string)
	Finished(method string, res Result, elapsed time.Duration)
}

type Callback func(ctx context.Context, res Result)

type Submitter struct {
	contract contract.Writer
	wallet   wallet.Wallet
	log      logrus.FieldLogger
	observer Observer

	pollInterval   time.Duration
	confirmTimeout time.Duration
	onSuccess      Callback
	onError        Callback

	mu      sync.Mutex
	state   State
	lastErr error
}

type Option func(*Submitter)

func WithPollInterval(d time.Duration) Option {
	return func(s *Submitter) { s.pollInterval = d }
}

// WithConfirmTimeout bounds broadcast and confirmation together.
func WithConfirmTimeout(d time.Duration) Option {
	return func(s *Submitter) { s.confirmTimeout = d }
}

// WithOnSuccess registers the callback invoked after confirmation, before the
// submitter returns to idle.
func WithOnSuccess(cb Callback) Option {
	return func(s *Submitter) { s.onSuccess = cb }
}

func WithOnError(cb Callback) Option {
	return func(s *Submitter) { s.onError = cb }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Submitter) { s.log = log }
}

func WithObserver(o Observer) Option {
	return func(s *Submitter) { s.observer = o }
}

func New(c contract.Writer, w wallet.Wallet, opts ...Option) *Submitter {
	if w == nil {
		w = wallet.None{}
	}
	s := &Submitter{
		contract:       c,
		wallet:         w,
		log:            logrus.StandardLogger(),
		pollInterval:   defaultPollInterval,
		confirmTimeout: defaultConfirmTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Submitter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Submitter) InFlight() bool {
	return s.State() != StateIdle
}

// LastError returns the error of the most recent submission, nil after a
// confirmation.
func (s *Submitter) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Submit runs op to a terminal state. While another submission is in flight
// it returns campaign.ErrSubmissionInFlight without touching the contract or
// the wallet. The returned error equals Result.Err.
//
// Cancelling ctx stops the submission only before broadcast. Once the
// envelope is handed to the network, confirmation is bounded by the confirm
// timeout alone.
func (s *Submitter) Submit(ctx context.Context, op campaign.Operation) (Result, error) {
	if !s.begin() {
		return Result{}, campaign.ErrSubmissionInFlight
	}

	var res Result
	// Reset even if a collaborator or callback panics, so one bad submission
	// cannot wedge the submitter.
	defer func() {
		s.mu.Lock()
		s.lastErr = res.Err
		s.state = StateIdle
		s.mu.Unlock()
	}()

	method := op.Method()
	log := s.log.WithFields(logrus.Fields{"method": method, "source": op.Source()})
	if s.observer != nil {
		s.observer.Started(method)
	}
	start := time.Now()

	res = s.run(ctx, op, log)

	final := StateConfirmed
	cb := s.onSuccess
	if res.Err != nil {
		final = StateFailed
		cb = s.onError
		log.WithError(res.Err).WithFields(logrus.Fields{
			"kind": campaign.Kind(res.Err),
			"tx":   res.TxHash,
		}).Warn("submission failed")
	} else {
		log.WithField("tx", res.TxHash).Info("submission confirmed")
	}
	s.transition(log, final)
	if cb != nil {
		cb(ctx, res)
	}
	if s.observer != nil {
		s.observer.Finished(method, res, time.Since(start))
	}
	return res, res.Err
}

func (s *Submitter) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return false
	}
	s.state = StateBuilding
	return true
}

func (s *Submitter) transition(log logrus.FieldLogger, next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	log.WithFields(logrus.Fields{"from": prev.String(), "to": next.String()}).Debug("submission state")
}

func (s *Submitter) run(ctx context.Context, op campaign.Operation, log logrus.FieldLogger) Result {
	res := Result{Method: op.Method(), Outcome: OutcomeFailed}

	env, err := s.contract.Build(ctx, op)
	if err != nil {
		res.Err = classify("build", err)
		return res
	}

	s.transition(log, StateSigning)
	signed, err := s.wallet.SignTransaction(ctx, env)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", campaign.ErrSignatureDeclined, err)
		return res
	}

	s.transition(log, StateBroadcasting)
	final, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.confirmTimeout)
	defer cancel()

	hash, err := s.contract.Broadcast(final, signed)
	if err != nil {
		res.Err = classify("broadcast", err)
		return res
	}
	res.TxHash = hash

	s.transition(log, StateConfirming)
	status, err := contract.WaitForFinality(final, s.contract, hash, s.pollInterval)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		res.Err = fmt.Errorf("%w: confirmation of %s timed out after %s: %w", campaign.ErrNetworkError, hash, s.confirmTimeout, err)
	case err != nil:
		res.Err = classify("confirm", err)
	case status.State == contract.TxFailed:
		res.Err = &campaign.RejectionError{Detail: status.Detail}
	default:
		res.Outcome = OutcomeConfirmed
	}
	return res
}

// classify splits contract and node rejections from transport faults.
func classify(step string, err error) error {
	var rejected *contract.RejectedError
	if errors.As(err, &rejected) {
		return &campaign.RejectionError{Detail: rejected.Reason, Err: err}
	}
	if errors.Is(err, contract.ErrRejected) {
		return &campaign.RejectionError{Err: err}
	}
	return fmt.Errorf("%w: %s: %w", campaign.ErrNetworkError, step, err)
}
