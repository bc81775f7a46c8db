package services_test

import (
	"context"
	"testing"

	"opal/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithItemID(ctx, "item_42")
	ctx = services.WithJobID(ctx, "job_7")
	ctx = services.WithTenantID(ctx, "acme")
	ctx = services.WithStage(ctx, "bg-removal")
	ctx = services.WithCorrelationID(ctx, "corr-123")
	ctx = services.WithMessageID(ctx, "msg-1")

	if id, ok := services.ItemIDFromContext(ctx); !ok || id != "item_42" {
		t.Fatalf("unexpected item id: %v %v", id, ok)
	}
	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job_7" {
		t.Fatalf("unexpected job id: %v %v", id, ok)
	}
	if id, ok := services.TenantIDFromContext(ctx); !ok || id != "acme" {
		t.Fatalf("unexpected tenant id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "bg-removal" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if cid, ok := services.CorrelationIDFromContext(ctx); !ok || cid != "corr-123" {
		t.Fatalf("unexpected correlation id: %v %v", cid, ok)
	}
	if mid, ok := services.MessageIDFromContext(ctx); !ok || mid != "msg-1" {
		t.Fatalf("unexpected message id: %v %v", mid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithItemID(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.ItemIDFromContext(ctx); ok {
		t.Fatal("expected no item value")
	}
}
