package report

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBuilder_SortsAndRecordsFailures(t *testing.T) {
	ids := make([]uuid.UUID, 20)
	for i := range ids {
		ids[i] = uuid.New()
	}
	est := &fakeEstimator{fail: map[uuid.UUID]error{ids[3]: errBoom, ids[7]: errBoom}}
	b := NewBuilder(est, &fakeLister{ids: ids}, 4, time.Second, testLogger(), nil)

	var ticks int
	batch, err := b.Build(context.Background(), time.Now(), func() { ticks++ })
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(batch.Rows) != 18 || len(batch.Failures) != 2 {
		t.Fatalf("rows/failures = %d/%d, want 18/2", len(batch.Rows), len(batch.Failures))
	}
	if ticks != 20 {
		t.Errorf("progress ticks = %d, want 20", ticks)
	}
	for i := 1; i < len(batch.Rows); i++ {
		if batch.Rows[i-1].StoreID.String() > batch.Rows[i].StoreID.String() {
			t.Fatalf("rows not sorted at %d", i)
		}
	}
}

func TestBuilder_ListingFailureAborts(t *testing.T) {
	b := NewBuilder(&fakeEstimator{}, &fakeLister{err: errBoom}, 2, 0, testLogger(), nil)
	if _, err := b.Build(context.Background(), time.Now(), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuilder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder(&fakeEstimator{}, &fakeLister{ids: []uuid.UUID{uuid.New(), uuid.New()}}, 1, 0, testLogger(), nil)
	if _, err := b.Build(ctx, time.Now(), nil); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
