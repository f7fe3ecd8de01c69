package server

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"crowdfund/internal/campaign"
	"crowdfund/internal/submitter"
)

// FailureLog writes one JSON file per failed submission for operator review.
// Nothing is retried from it. An empty directory disables it.
type FailureLog struct {
	dir string
	log logrus.FieldLogger
	now func() time.Time
}

type failureEntry struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId,omitempty"`
	Method    string    `json:"method"`
	Kind      string    `json:"kind"`
	TxHash    string    `json:"txHash,omitempty"`
	Error     string    `json:"error"`
}

func NewFailureLog(dir string, log logrus.FieldLogger) *FailureLog {
	return &FailureLog{dir: dir, log: log, now: time.Now}
}

// Record is a submitter.Callback for failed submissions.
func (f *FailureLog) Record(ctx context.Context, res submitter.Result) {
	if f == nil || f.dir == "" || res.Err == nil {
		return
	}

	entry := failureEntry{
		Timestamp: f.now().UTC(),
		RequestID: requestIDFromContext(ctx),
		Method:    res.Method,
		Kind:      campaign.Kind(res.Err),
		TxHash:    res.TxHash,
		Error:     res.Err.Error(),
	}
	log := f.log.WithFields(logrus.Fields{"method": entry.Method, "kind": entry.Kind})

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		log.WithError(err).Error("failure log marshal")
		return
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		log.WithError(err).Error("failure log mkdir")
		return
	}

	filename := fmt.Sprintf("%d-%s.json", entry.Timestamp.UnixNano(), entry.Method)
	if err := os.WriteFile(filepath.Join(f.dir, filename), data, 0o600); err != nil {
		log.WithError(err).Error("failure log write")
	}
}

// Depth counts the entries on disk.
func (f *FailureLog) Depth() int {
	if f == nil || f.dir == "" {
		return 0
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			f.log.WithError(err).Warn("failure log read")
		}
		return 0
	}
	return len(entries)
}
