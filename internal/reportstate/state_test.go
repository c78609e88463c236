package reportstate

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestKeys(t *testing.T) {
	id := uuid.MustParse("8c4b1a0e-7f2d-4f3e-9a55-1b2c3d4e5f60")
	if got := stateKey(id); got != "report_state:8c4b1a0e-7f2d-4f3e-9a55-1b2c3d4e5f60" {
		t.Errorf("stateKey = %q", got)
	}
	if got := progressKey(id); got != "report_progress:8c4b1a0e-7f2d-4f3e-9a55-1b2c3d4e5f60" {
		t.Errorf("progressKey = %q", got)
	}
}

func TestDecodeState(t *testing.T) {
	st, err := decodeState([]byte(`{"status":"completed","store_count":3,"failed_store_count":1}`))
	if err != nil {
		t.Fatalf("decodeState failed: %v", err)
	}
	if !st.Terminal() || st.StoreCount != 3 || st.FailedStoreCount != 1 {
		t.Errorf("state = %+v", st)
	}
	if _, err := decodeState([]byte(`[`)); err == nil {
		t.Error("expected error for corrupt state")
	}
}

// TestManager_Redis runs against a live Redis when REDIS_TEST_ADDR is set
func TestManager_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()

	m := NewManager(client, time.Minute)
	id := uuid.New()
	defer m.Delete(ctx, id)

	if _, err := m.Get(ctx, id); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get on empty = %v, want ErrMiss", err)
	}

	if err := m.Set(ctx, &State{ReportID: id, Status: "running", StoreCount: 10}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := m.Advance(ctx, id); err != nil {
			t.Fatalf("Advance failed: %v", err)
		}
	}

	st, err := m.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if st.Status != "running" || st.Done != 4 || st.Terminal() {
		t.Errorf("state = %+v", st)
	}
}
