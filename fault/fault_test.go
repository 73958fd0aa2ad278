package fault

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestKindHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{ValidationFailed, http.StatusBadRequest},
		{JobNotFound, http.StatusNotFound},
		{JobAlreadyCompleted, http.StatusConflict},
		{JobExpired, http.StatusGone},
		{SignatureMismatch, http.StatusUnauthorized},
		{InsufficientDeposit, http.StatusPaymentRequired},
		{JobInFlight, http.StatusLocked},
		{UpstreamUnavailable, http.StatusBadGateway},
		{BlobSubmissionFailed, http.StatusInternalServerError},
		{Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			if got := tt.kind.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus(%v) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}

func TestKindOfUnwrapsChain(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(UpstreamUnavailable, cause, "fetch job")
	wrapped := fmt.Errorf("submit: %w", err)

	if got := KindOf(wrapped); got != UpstreamUnavailable {
		t.Errorf("KindOf = %v, want UpstreamUnavailable", got)
	}
	if !errors.Is(wrapped, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if KindOf(errors.New("plain")) != Internal {
		t.Error("unclassified error should map to Internal")
	}
}

func TestPermanent(t *testing.T) {
	if !Permanent(New(SignatureMismatch, "bad sig")) {
		t.Error("SignatureMismatch should be permanent")
	}
	if Permanent(New(UpstreamUnavailable, "rpc down")) {
		t.Error("UpstreamUnavailable should not be permanent")
	}
	if Permanent(New(JobInFlight, "locked")) {
		t.Error("JobInFlight should not be permanent")
	}
}

func TestTruncateMessage(t *testing.T) {
	t.Run("short message untouched", func(t *testing.T) {
		msg := strings.Repeat("a", 4000)
		if got := TruncateMessage(msg); got != msg {
			t.Error("message at threshold should not be truncated")
		}
	})

	t.Run("long message keeps head and tail", func(t *testing.T) {
		msg := strings.Repeat("h", 3000) + strings.Repeat("t", 3000)
		got := TruncateMessage(msg)
		if !strings.HasPrefix(got, strings.Repeat("h", 2000)) {
			t.Error("expected 2000-char head")
		}
		if !strings.HasSuffix(got, strings.Repeat("t", 2000)) {
			t.Error("expected 2000-char tail")
		}
		if !strings.Contains(got, truncateMarker) {
			t.Error("expected truncation marker")
		}
		if len(got) != 2000+len(truncateMarker)+2000 {
			t.Errorf("unexpected truncated length %d", len(got))
		}
	})

	t.Run("params cut beats head limit", func(t *testing.T) {
		msg := strings.Repeat("x", 100) + "params" + strings.Repeat("y", 5000)
		got := TruncateMessage(msg)
		if !strings.HasPrefix(got, strings.Repeat("x", 100)+truncateMarker) {
			t.Errorf("head should stop before params, got prefix %q", got[:130])
		}
	})

	t.Run("params after head limit ignored", func(t *testing.T) {
		msg := strings.Repeat("x", 2500) + "params" + strings.Repeat("y", 2500)
		got := TruncateMessage(msg)
		if !strings.HasPrefix(got, strings.Repeat("x", 2000)+truncateMarker) {
			t.Error("head should be the full 2000 characters")
		}
	})
}

func TestParseKind(t *testing.T) {
	for k := Internal; k <= BlobSubmissionFailed; k++ {
		if got := ParseKind(k.String()); got != k {
			t.Errorf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if got := ParseKind("no_such_code"); got != Internal {
		t.Errorf("ParseKind of unknown code = %v, want Internal", got)
	}
}
