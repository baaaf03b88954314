package seo

import (
	"errors"
	"fmt"
	"testing"
)

func TestConflictfWrapsSentinel(t *testing.T) {
	t.Parallel()

	err := Conflictf("cannot pause a %s audit", AuditStatusCompleted)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := err.Error(); got != "cannot pause a completed audit: conflicting audit state" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	netErr := &NetworkError{URL: "https://example.com", Cause: errors.New("dial timeout")}
	if !IsRetryable(netErr) {
		t.Fatal("NetworkError should be retryable")
	}
	if !IsRetryable(fmt.Errorf("handle job: %w", netErr)) {
		t.Fatal("wrapped NetworkError should be retryable")
	}
	if IsRetryable(&ParseError{URL: "https://example.com", Cause: errors.New("bad html")}) {
		t.Fatal("ParseError should not be retryable")
	}
	if IsRetryable(nil) {
		t.Fatal("nil should not be retryable")
	}
}

func TestIsApprovalRequired(t *testing.T) {
	t.Parallel()

	appErr := &ApprovalRequiredError{Host: "example.com", Cause: errors.New("timeout")}
	if !IsApprovalRequired(appErr) {
		t.Fatal("expected approval-required detection")
	}
	if !IsApprovalRequired(fmt.Errorf("start audit: %w", appErr)) {
		t.Fatal("expected wrapped approval-required detection")
	}
	if IsApprovalRequired(errors.New("other")) {
		t.Fatal("plain error misclassified")
	}
}

func TestAuditStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range []AuditStatus{AuditStatusCompleted, AuditStatusStopped} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []AuditStatus{
		AuditStatusPending, AuditStatusPendingApproval,
		AuditStatusInProgress, AuditStatusPaused, AuditStatusFailed,
	} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
