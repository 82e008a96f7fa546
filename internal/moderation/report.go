// Package moderation implements the message-reporting flow: a draft built
// in the report dialog, validated client-side, submitted once, with the
// duplicate-report rejection mapped to a dedicated error so the UI can show
// the specific "already reported" message instead of the generic failure.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mbtilink/matchkit/internal/api"
	"github.com/mbtilink/matchkit/internal/metrics"
	"github.com/mbtilink/matchkit/internal/protocol"
)

var (
	// ErrNoReasons rejects a submission with an empty reason set before any
	// network call is made.
	ErrNoReasons = errors.New("moderation: at least one reason required")

	// ErrAlreadyReported marks the backend's duplicate-report rejection.
	ErrAlreadyReported = errors.New("moderation: message already reported")
)

// Backend is the slice of the REST client the reporter depends on.
type Backend interface {
	ReportMessage(ctx context.Context, messageID string, req protocol.ReportRequest) error
}

// Draft accumulates the state of one report dialog. It is discarded after a
// successful submit or when the dialog is dismissed.
type Draft struct {
	MessageID string
	reasons   map[string]bool
	Submitted bool
}

// NewDraft starts a draft targeting the given message.
func NewDraft(messageID string) *Draft {
	return &Draft{
		MessageID: messageID,
		reasons:   make(map[string]bool),
	}
}

// Toggle flips a reason in or out of the selected set. Unknown reason codes
// are ignored.
func (d *Draft) Toggle(reason string) {
	if !protocol.ValidReason(reason) {
		return
	}
	if d.reasons[reason] {
		delete(d.reasons, reason)
	} else {
		d.reasons[reason] = true
	}
}

// Reasons returns the selected reason codes. Order is unspecified.
func (d *Draft) Reasons() []string {
	out := make([]string, 0, len(d.reasons))
	for r := range d.reasons {
		out = append(out, r)
	}
	return out
}

// Reporter submits reports on behalf of one user.
type Reporter struct {
	backend    Backend
	reporterID string
}

// NewReporter creates a Reporter for the given user.
func NewReporter(backend Backend, reporterID string) *Reporter {
	return &Reporter{backend: backend, reporterID: reporterID}
}

// Submit files the draft. A draft with no reasons selected returns
// ErrNoReasons without a network call. A duplicate-report rejection from the
// backend is returned as ErrAlreadyReported; any other failure is wrapped
// generically. On success the draft is marked submitted.
func (r *Reporter) Submit(ctx context.Context, draft *Draft) error {
	reasons := draft.Reasons()
	if len(reasons) == 0 {
		return ErrNoReasons
	}

	err := r.backend.ReportMessage(ctx, draft.MessageID, protocol.ReportRequest{
		ReporterID: r.reporterID,
		Reasons:    reasons,
	})
	if err != nil {
		if isDuplicate(err) {
			metrics.Reports.WithLabelValues("duplicate").Inc()
			return ErrAlreadyReported
		}
		metrics.Reports.WithLabelValues("error").Inc()
		return fmt.Errorf("moderation: submit report: %w", err)
	}

	metrics.Reports.WithLabelValues("ok").Inc()
	draft.Submitted = true
	return nil
}

// isDuplicate recognizes the backend's duplicate-report rejection. The
// backend signals it with 409, but older deployments answer 400 with the
// duplicate wording in the body, so the message text is matched as well.
func isDuplicate(err error) bool {
	var se *api.StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.Code == http.StatusConflict {
		return true
	}
	body := strings.ToLower(se.Body)
	return strings.Contains(body, "already reported") || strings.Contains(body, "duplicate")
}
