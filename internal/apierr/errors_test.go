package apierr

import (
	"errors"
	"net/http"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{InvalidArgument, http.StatusBadRequest},
		{Unauthorized, http.StatusUnauthorized},
		{NotFound, http.StatusNotFound},
		{IllegalState, http.StatusConflict},
		{CapacityExhausted, http.StatusTooManyRequests},
		{StartupFailed, http.StatusBadGateway},
		{Unavailable, http.StatusServiceUnavailable},
		{DeadlineExceeded, http.StatusGatewayTimeout},
		{Internal, http.StatusInternalServerError},
		{Kind("unknown"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := c.kind.Status(); got != c.want {
			t.Errorf("%s.Status() = %d, want %d", c.kind, got, c.want)
		}
	}
}

func TestKindOfUnwrapsWrappedError(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(Unavailable, "driver failed", cause)
	if KindOf(wrapped) != Unavailable {
		t.Fatalf("KindOf wrapped = %v, want Unavailable", KindOf(wrapped))
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("wrapped error should unwrap to cause")
	}
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	if KindOf(errors.New("plain")) != Internal {
		t.Fatal("plain error should default to Internal")
	}
}
