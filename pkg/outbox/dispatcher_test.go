package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"timetrack/pkg/circuitbreaker"
	"timetrack/pkg/trace"
)

type fakeStore struct {
	events  []*Event
	sent    []int64
	failed  []int64
	byID    map[int64]*Event
	fetches int
}

func (f *fakeStore) GetPendingEvents(ctx context.Context, limit int) ([]*Event, error) {
	f.fetches++
	return f.events, nil
}

func (f *fakeStore) GetFailedEvents(ctx context.Context, limit int) ([]*Event, error) {
	return f.events, nil
}

func (f *fakeStore) GetEventByID(ctx context.Context, eventID int64) (*Event, error) {
	if e, ok := f.byID[eventID]; ok {
		return e, nil
	}
	return nil, ErrEventNotFound
}

func (f *fakeStore) MarkAsSent(ctx context.Context, eventID int64) error {
	f.sent = append(f.sent, eventID)
	return nil
}

func (f *fakeStore) MarkAsFailed(ctx context.Context, eventID int64, maxRetries int) error {
	f.failed = append(f.failed, eventID)
	return nil
}

type fakePublisher struct {
	err      error
	keys     []string
	traceIDs []string
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, routingKey)
	p.traceIDs = append(p.traceIDs, trace.FromContext(ctx))
	return nil
}

func TestDispatcherPublishesPendingEvents(t *testing.T) {
	store := &fakeStore{events: []*Event{
		{ID: 1, RoutingKey: "timesheet.submitted", Payload: []byte(`{"approval_id":7,"trace_id":"abc"}`)},
		{ID: 2, RoutingKey: "timesheet.approved", Payload: []byte(`{"approval_id":7}`)},
	}}
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, zap.NewNop())

	if sent := d.ProcessPendingEvents(context.Background()); sent != 2 {
		t.Fatalf("Expected 2 events sent, got %d", sent)
	}
	if len(store.sent) != 2 || store.sent[0] != 1 || store.sent[1] != 2 {
		t.Errorf("Expected events [1 2] marked sent, got %v", store.sent)
	}
	if pub.keys[0] != "timesheet.submitted" {
		t.Errorf("Expected routing key timesheet.submitted, got %s", pub.keys[0])
	}
	if pub.traceIDs[0] != "abc" {
		t.Errorf("Expected trace id propagated from payload, got '%s'", pub.traceIDs[0])
	}
}

func TestDispatcherMarksFailuresAndStopsWhenBreakerOpens(t *testing.T) {
	store := &fakeStore{events: []*Event{
		{ID: 1, RoutingKey: "timesheet.submitted", Payload: []byte(`{}`)},
		{ID: 2, RoutingKey: "timesheet.submitted", Payload: []byte(`{}`)},
		{ID: 3, RoutingKey: "timesheet.submitted", Payload: []byte(`{}`)},
	}}
	pub := &fakePublisher{err: errors.New("connection reset")}
	now := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	var transitions []string
	d := NewDispatcher(store, pub, zap.NewNop()).WithBreakerConfig(circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
		Now:                 func() time.Time { return now },
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	if sent := d.ProcessPendingEvents(context.Background()); sent != 0 {
		t.Errorf("Expected 0 events sent, got %d", sent)
	}
	if len(store.failed) != 2 {
		t.Errorf("Expected 2 events marked failed before breaker opened, got %v", store.failed)
	}
	if d.breaker.GetState() != circuitbreaker.StateOpen {
		t.Errorf("Expected breaker open, got %s", d.breaker.GetState())
	}

	// 熔断超时后半开，发布恢复即关闭
	now = now.Add(time.Minute)
	pub.err = nil
	store.failed = nil
	if sent := d.ProcessPendingEvents(context.Background()); sent != 3 {
		t.Errorf("Expected 3 events sent after recovery, got %d", sent)
	}

	want := []string{
		"outbox_publish:closed->open",
		"outbox_publish:open->half_open",
		"outbox_publish:half_open->closed",
	}
	if len(transitions) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("Expected transition %s, got %s", want[i], transitions[i])
		}
	}
}

func TestDispatcherInvalidPayloadCountsAsFailure(t *testing.T) {
	store := &fakeStore{events: []*Event{{ID: 9, RoutingKey: "timesheet.rejected", Payload: []byte(`not json`)}}}
	d := NewDispatcher(store, &fakePublisher{}, zap.NewNop())

	d.ProcessPendingEvents(context.Background())
	if len(store.failed) != 1 || store.failed[0] != 9 {
		t.Errorf("Expected event 9 marked failed, got %v", store.failed)
	}
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	testCases := []struct {
		name       string
		retryCount int
		wantStatus string
		wantDelay  time.Duration
	}{
		{"first retry", 1, StatusPending, 5 * time.Second},
		{"third retry", 3, StatusPending, 15 * time.Second},
		{"exhausted", 5, StatusFailed, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, next := NextAttempt(tc.retryCount, 5, now)
			if status != tc.wantStatus {
				t.Errorf("Expected status %s, got %s", tc.wantStatus, status)
			}
			if tc.wantStatus == StatusFailed {
				if next != nil {
					t.Errorf("Expected no next retry, got %v", next)
				}
				return
			}
			if next.Sub(now) != tc.wantDelay {
				t.Errorf("Expected delay %v, got %v", tc.wantDelay, next.Sub(now))
			}
		})
	}
}

func TestReplayEvent(t *testing.T) {
	store := &fakeStore{byID: map[int64]*Event{
		4: {ID: 4, RoutingKey: "timesheet.approved", Payload: []byte(`{"approval_id":1}`)},
	}}
	pub := &fakePublisher{}
	svc := NewReplayService(store, pub, zap.NewNop())

	if err := svc.ReplayEvent(context.Background(), 4); err != nil {
		t.Fatalf("ReplayEvent returned error: %v", err)
	}
	if len(store.sent) != 1 || store.sent[0] != 4 {
		t.Errorf("Expected event 4 marked sent, got %v", store.sent)
	}

	if err := svc.ReplayEvent(context.Background(), 99); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("Expected ErrEventNotFound, got %v", err)
	}
}
