package mqhandler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	contracts "timetrack/contracts/mq"
)

type memDeduper struct {
	seen map[string]bool
}

func (d *memDeduper) AcquireOnce(ctx context.Context, handler string, key string) bool {
	k := handler + ":" + key
	if d.seen[k] {
		return false
	}
	d.seen[k] = true
	return true
}

type recordingCache struct {
	users []int
}

func (c *recordingCache) Invalidate(ctx context.Context, userID int) {
	c.users = append(c.users, userID)
}

func payload(t *testing.T, p contracts.TimesheetEventPayload) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Failed to marshal payload: %v", err)
	}
	return raw
}

func TestHandleTimesheetEvent(t *testing.T) {
	cache := &recordingCache{}
	h := NewTimesheetEventHandler(&memDeduper{seen: map[string]bool{}}, cache, zap.NewNop())
	ctx := context.Background()
	at := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)

	approved := payload(t, contracts.TimesheetEventPayload{ApprovalID: 1, UserID: 7, Status: "APPROVED", OccurredAt: at})
	if err := h.HandleTimesheetEvent(ctx, approved); err != nil {
		t.Fatalf("HandleTimesheetEvent returned error: %v", err)
	}
	// 重复投递
	if err := h.HandleTimesheetEvent(ctx, approved); err != nil {
		t.Fatalf("HandleTimesheetEvent returned error on duplicate: %v", err)
	}
	if len(cache.users) != 1 || cache.users[0] != 7 {
		t.Errorf("Expected one invalidation for user 7, got %v", cache.users)
	}

	pending := payload(t, contracts.TimesheetEventPayload{ApprovalID: 1, UserID: 7, Status: "PENDING", OccurredAt: at.Add(time.Hour)})
	if err := h.HandleTimesheetEvent(ctx, pending); err != nil {
		t.Fatalf("HandleTimesheetEvent returned error: %v", err)
	}
	if len(cache.users) != 2 {
		t.Errorf("Expected two invalidations, got %d", len(cache.users))
	}
}

func TestHandleTimesheetEventInvalid(t *testing.T) {
	h := NewTimesheetEventHandler(nil, nil, zap.NewNop())
	ctx := context.Background()

	testCases := []struct {
		name    string
		raw     json.RawMessage
		wantErr bool
	}{
		{"malformed json", json.RawMessage(`{`), true},
		{"missing ids", payload(t, contracts.TimesheetEventPayload{Status: "PENDING"}), true},
		{"unknown status is skipped", payload(t, contracts.TimesheetEventPayload{ApprovalID: 1, UserID: 2, Status: "ARCHIVED"}), false},
		{"no deduper or cache", payload(t, contracts.TimesheetEventPayload{ApprovalID: 1, UserID: 2, Status: "REJECTED"}), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := h.HandleTimesheetEvent(ctx, tc.raw)
			if (err != nil) != tc.wantErr {
				t.Errorf("Expected error=%v, got %v", tc.wantErr, err)
			}
		})
	}
}
