package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CodeInvalidRanking, "query q1 has no documents"),
			want: "INVALID_RANKING: query q1 has no documents",
		},
		{
			name: "with wrapped error",
			err:  Wrap(CodeInternal, "something failed", errors.New("underlying")),
			want: "INTERNAL_ERROR: something failed: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(CodeInternal, "wrapped", underlying)

	if unwrapped := err.Unwrap(); unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}
}

func TestAppError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code   string
		status int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeInvalidRequest, http.StatusBadRequest},
		{CodeInvalidParameter, http.StatusBadRequest},
		{CodeInvalidRanking, http.StatusUnprocessableEntity},
		{CodeMisalignedQuerySet, http.StatusUnprocessableEntity},
		{CodeEmptyJudgmentSet, http.StatusUnprocessableEntity},
		{CodeNotFound, http.StatusNotFound},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test")
			if status := err.HTTPStatus(); status != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", status, tt.status)
			}
		})
	}
}

func TestPredicates_WrappedChain(t *testing.T) {
	base := InvalidParameter("k must be positive, got %d", -1)
	wrapped := fmt.Errorf("optimizing rrf: %w", base)

	if !IsInvalidParameter(wrapped) {
		t.Error("IsInvalidParameter() = false for wrapped error, want true")
	}
	if IsInvalidRanking(wrapped) {
		t.Error("IsInvalidRanking() = true, want false")
	}
	if Code(errors.New("plain")) != "" {
		t.Error("Code() of plain error should be empty")
	}
	if !IsEmptyJudgmentSet(EmptyJudgmentSet()) {
		t.Error("IsEmptyJudgmentSet() = false, want true")
	}
	if !IsMisaligned(MisalignedQuerySet("no overlap")) {
		t.Error("IsMisaligned() = false, want true")
	}
}

func TestRateLimitedError(t *testing.T) {
	err := RateLimitedError(3)
	if err.Details["retry_after"] != "3" {
		t.Errorf("Details[retry_after] = %q, want 3", err.Details["retry_after"])
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		wantCode string
	}{
		{"app error", InvalidRanking("empty"), http.StatusUnprocessableEntity, CodeInvalidRanking},
		{"plain error is sanitized", errors.New("db password leaked"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decoding response: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Code, tt.wantCode)
			}
		})
	}
}
