package rpc

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/logging"
)

func testServer() *Server {
	return &Server{log: logging.Default().Component("rpc-test")}
}

func TestToRPCErrorMapping(t *testing.T) {
	s := testServer()

	cases := []struct {
		err  error
		code int
	}{
		{errs.ErrUnauthenticated, CodeUnauthenticated},
		{errs.ErrForbidden, CodeForbidden},
		{errs.ErrNotFound, CodeNotFound},
		{errs.ErrInvalidInput, CodeInvalidInput},
		{errs.ErrInvalidTransition, CodeInvalidInput},
		{errs.ErrInsufficientFunds, CodeInvalidInput},
		{errs.ErrPaymentMethodMismatch, CodeInvalidInput},
		{errs.ErrRateUnavailable, CodeRateUnavailable},
		{errs.ErrDuplicateKey, CodeDuplicateKey},
		{errs.ErrConflict, CodeConflict},
		{errs.ErrTimeout, CodeTimeout},
	}

	for _, tc := range cases {
		got := s.toRPCError(fmt.Errorf("context: %w", tc.err))
		if got.Code != tc.code {
			t.Errorf("toRPCError(%v) code = %d, want %d", tc.err, got.Code, tc.code)
		}
	}

	internal := s.toRPCError(fmt.Errorf("boom"))
	if internal.Code != InternalError {
		t.Errorf("unknown error code = %d, want %d", internal.Code, InternalError)
	}
	if internal.Message != "internal error" {
		t.Errorf("internal detail leaked: %q", internal.Message)
	}
}

func TestBearerToken(t *testing.T) {
	r, _ := http.NewRequest("POST", "/", nil)
	if got := bearerToken(r); got != "" {
		t.Errorf("no header token = %q, want empty", got)
	}

	r.Header.Set("Authorization", "Bearer abc123")
	if got := bearerToken(r); got != "abc123" {
		t.Errorf("token = %q, want abc123", got)
	}

	r.Header.Set("Authorization", "Basic abc123")
	if got := bearerToken(r); got != "" {
		t.Errorf("basic auth token = %q, want empty", got)
	}
}
