package jobs_test

import (
	"strings"
	"testing"

	"opal/internal/jobs"
)

func TestDeriveStatusPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		statuses []jobs.ItemStatus
		want     jobs.JobStatus
		changed  bool
	}{
		{name: "no items", statuses: nil, changed: false},
		{name: "all completed", statuses: []jobs.ItemStatus{jobs.ItemCompleted, jobs.ItemCompleted}, want: jobs.JobCompleted, changed: true},
		{name: "completed and failed", statuses: []jobs.ItemStatus{jobs.ItemCompleted, jobs.ItemFailed}, want: jobs.JobPartial, changed: true},
		{name: "processing and failed", statuses: []jobs.ItemStatus{jobs.ItemProcessing, jobs.ItemFailed}, want: jobs.JobProcessing, changed: true},
		{name: "all failed", statuses: []jobs.ItemStatus{jobs.ItemFailed, jobs.ItemFailed}, want: jobs.JobFailed, changed: true},
		{name: "processing and completed", statuses: []jobs.ItemStatus{jobs.ItemProcessing, jobs.ItemCompleted}, want: jobs.JobProcessing, changed: true},
		{name: "uploaded and failed", statuses: []jobs.ItemStatus{jobs.ItemUploaded, jobs.ItemFailed}, want: jobs.JobPartial, changed: true},
		{name: "uploaded and completed", statuses: []jobs.ItemStatus{jobs.ItemUploaded, jobs.ItemCompleted}, changed: false},
		{name: "all created", statuses: []jobs.ItemStatus{jobs.ItemCreated, jobs.ItemCreated}, changed: false},
		{name: "single completed", statuses: []jobs.ItemStatus{jobs.ItemCompleted}, want: jobs.JobCompleted, changed: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, changed := jobs.DeriveStatus(tc.statuses)
			if changed != tc.changed {
				t.Fatalf("changed = %v, want %v", changed, tc.changed)
			}
			if changed && got != tc.want {
				t.Fatalf("status = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTruncateErrorBoundsLength(t *testing.T) {
	long := strings.Repeat("é", jobs.MaxErrorLength+10)
	got := jobs.TruncateError(long)
	if n := len([]rune(got)); n != jobs.MaxErrorLength {
		t.Fatalf("expected %d runes, got %d", jobs.MaxErrorLength, n)
	}
	if jobs.TruncateError("  short  ") != "short" {
		t.Fatal("expected short messages to be trimmed only")
	}
}

func TestNewIDFormat(t *testing.T) {
	id := jobs.NewItemID()
	if !strings.HasPrefix(id, "item_") || len(id) != len("item_")+32 {
		t.Fatalf("unexpected id %q", id)
	}
	if jobs.NewItemID() == id {
		t.Fatal("expected unique ids")
	}
}
