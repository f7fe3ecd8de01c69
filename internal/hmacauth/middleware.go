// Package hmacauth authenticates campaign submissions. A signature covers the
// timestamp, the route, the idempotency key and the body, so a captured
// signature cannot be replayed against another route or under a fresh
// idempotency key.
package hmacauth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultSignatureHeader = "X-Request-Signature"
	DefaultTimestampHeader = "X-Request-Timestamp"
	DefaultKeyHeader       = "X-Idempotency-Key"
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrUnreadableBody   = errors.New("unreadable request body")
)

// Reason returns a short label for a rejection, suitable for metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingSignature):
		return "missing_signature"
	case errors.Is(err, ErrMissingTimestamp):
		return "missing_timestamp"
	case errors.Is(err, ErrStaleTimestamp):
		return "stale_timestamp"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrUnreadableBody):
		return "unreadable_body"
	default:
		return "unauthenticated"
	}
}

// Submission is the part of a request the signature covers.
type Submission struct {
	Timestamp      string
	Method         string
	Path           string
	IdempotencyKey string
	Body           []byte
}

func (s Submission) canonical() []byte {
	var buf bytes.Buffer
	buf.WriteString(s.Timestamp)
	buf.WriteByte('\n')
	buf.WriteString(strings.ToUpper(s.Method))
	buf.WriteByte(' ')
	buf.WriteString(s.Path)
	buf.WriteByte('\n')
	buf.WriteString(s.IdempotencyKey)
	buf.WriteByte('\n')
	buf.Write(s.Body)
	return buf.Bytes()
}

// Sign returns the hex signature a client sends for sub.
func Sign(secret string, sub Submission) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(sub.canonical())
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifier rejects submissions whose signature does not match. An empty
// Secret disables verification.
type Verifier struct {
	Secret          string
	MaxSkew         time.Duration
	Now             func() time.Time
	SignatureHeader string
	TimestampHeader string
	KeyHeader       string
	// Reject writes the response for a refused request. Defaults to a plain
	// 401.
	Reject func(w http.ResponseWriter, r *http.Request, err error)
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.verify(r); err != nil {
			if v.Reject != nil {
				v.Reject(w, r, err)
				return
			}
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (v *Verifier) verify(r *http.Request) error {
	if v.Secret == "" {
		return nil
	}

	sig := r.Header.Get(headerOr(v.SignatureHeader, DefaultSignatureHeader))
	if sig == "" {
		return ErrMissingSignature
	}
	tsHeader := r.Header.Get(headerOr(v.TimestampHeader, DefaultTimestampHeader))
	if tsHeader == "" {
		return ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrMissingTimestamp
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	reqTime := time.Unix(ts, 0)
	if now.Sub(reqTime) > v.MaxSkew || reqTime.Sub(now) > v.MaxSkew {
		return ErrStaleTimestamp
	}

	body, err := readBody(r)
	if err != nil {
		return ErrUnreadableBody
	}

	expected := Sign(v.Secret, Submission{
		Timestamp:      tsHeader,
		Method:         r.Method,
		Path:           r.URL.Path,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(headerOr(v.KeyHeader, DefaultKeyHeader))),
		Body:           body,
	})
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
		return ErrInvalidSignature
	}
	return nil
}

func headerOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// readBody drains the body and puts a fresh reader back for the handler.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte{}, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
