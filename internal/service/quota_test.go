package service

import (
	"context"
	"errors"
	"testing"

	"github.com/tidegate/armada/internal/domain"
)

func TestAssertQuota_WithinLimit(t *testing.T) {
	if err := assertQuota(context.Background(), "ds-1", 10, 10, "target", "distribution set", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAssertQuota_Exceeded(t *testing.T) {
	err := assertQuota(context.Background(), "ds-1", 11, 10, "target", "distribution set", nil)
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	var quotaErr *domain.QuotaError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaError, got %T", err)
	}
	if quotaErr.EntityID != "ds-1" || quotaErr.Requested != 11 || quotaErr.Limit != 10 {
		t.Fatalf("unexpected details: %+v", quotaErr)
	}
}

func TestAssertQuota_CountsExisting(t *testing.T) {
	lookup := func(context.Context) (int, error) { return 9, nil }

	if err := assertQuota(context.Background(), "alpha", 1, 10, "action", "target", lookup); err != nil {
		t.Fatalf("9+1 must fit a limit of 10: %v", err)
	}
	if err := assertQuota(context.Background(), "alpha", 2, 10, "action", "target", lookup); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("9+2 must exceed a limit of 10, got %v", err)
	}
}

func TestAssertQuota_NegativeRequest(t *testing.T) {
	if err := assertQuota(context.Background(), "x", -1, 10, "target", "set", nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
