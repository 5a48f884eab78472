package escrowerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestSentinelsSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("deposit rejected: %w", ErrMaxBalanceExceeded)

	if !errors.Is(wrapped, ErrMaxBalanceExceeded) {
		t.Fatalf("wrapped error should match its sentinel")
	}
	if CodeOf(wrapped) != "max_balance_exceeded" {
		t.Fatalf("unexpected code: %s", CodeOf(wrapped))
	}
	if HTTPStatus(wrapped) != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", HTTPStatus(wrapped))
	}
}

func TestStatusGroups(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{ErrUnauthorized, http.StatusForbidden},
		{ErrUnauthorizedPlatform, http.StatusForbidden},
		{ErrUnauthorizedTrading, http.StatusForbidden},
		{ErrInvalidAmount, http.StatusBadRequest},
		{ErrPlatformAuthorityAlreadySet, http.StatusBadRequest},
		{ErrEscrowPaused, http.StatusConflict},
		{ErrEscrowNotPaused, http.StatusConflict},
		{ErrCooldownNotElapsed, http.StatusConflict},
		{ErrRentNotRecovered, http.StatusConflict},
		{ErrMathOverflow, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.status {
			t.Fatalf("%s: expected %d, got %d", CodeOf(tc.err), tc.status, got)
		}
	}
}

func TestUnknownErrorIsInternal(t *testing.T) {
	err := errors.New("disk on fire")
	if HTTPStatus(err) != http.StatusInternalServerError {
		t.Fatalf("unknown errors map to 500, got %d", HTTPStatus(err))
	}
	if CodeOf(err) != "internal" {
		t.Fatalf("unknown errors report internal, got %s", CodeOf(err))
	}
}
