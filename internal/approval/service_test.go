package approval_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	contracts "timetrack/contracts/mq"
	"timetrack/internal/approval"
	"timetrack/internal/model"
	"timetrack/internal/repository"
	"timetrack/pkg/rbac"
)

const (
	employeeID     = 1
	managerID      = 2
	otherManagerID = 3
	validatorID    = 4
	adminID        = 5
	outsiderID     = 6
)

var weekStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
var weekEnd = weekStart.AddDate(0, 0, 6)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func intPtr(v int) *int { return &v }

func strPtr(s string) *string { return &s }

// setup 两个组：组1 有员工1、经理2；组2 有经理3、员工6；验证人4、管理员5 无组
func setup(t *testing.T) (*approval.Service, *repository.Memory, *clock) {
	t.Helper()
	store := repository.NewMemory()
	store.PutProfile(model.Profile{ID: employeeID, Role: rbac.RoleEmployee, GroupID: intPtr(1)})
	store.PutProfile(model.Profile{ID: managerID, Role: rbac.RoleManager, GroupID: intPtr(1)})
	store.PutProfile(model.Profile{ID: otherManagerID, Role: rbac.RoleManager, GroupID: intPtr(2)})
	store.PutProfile(model.Profile{ID: validatorID, Role: rbac.RoleValidator})
	store.PutProfile(model.Profile{ID: adminID, Role: rbac.RoleAdmin})
	store.PutProfile(model.Profile{ID: outsiderID, Role: rbac.RoleEmployee, GroupID: intPtr(2)})

	clk := &clock{now: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)}
	svc := approval.NewService(store, store, zap.NewNop(), approval.WithClock(clk.Now))
	return svc, store, clk
}

func addEntries(t *testing.T, store *repository.Memory, userID int, minutes ...int) []int {
	t.Helper()
	ids := make([]int, 0, len(minutes))
	for i, m := range minutes {
		e := &model.TimeEntry{
			UserID:          userID,
			ProjectID:       intPtr(1),
			Date:            weekStart.AddDate(0, 0, i),
			DurationMinutes: m,
			Billable:        true,
		}
		if err := store.CreateEntry(context.Background(), e); err != nil {
			t.Fatalf("Failed to create entry: %v", err)
		}
		ids = append(ids, e.ID)
	}
	return ids
}

func assertLinked(t *testing.T, store *repository.Memory, ids []int, want *int) {
	t.Helper()
	for _, id := range ids {
		e, err := store.GetEntry(context.Background(), id)
		if err != nil {
			t.Fatalf("Failed to load entry %d: %v", id, err)
		}
		switch {
		case want == nil && e.ApprovalID != nil:
			t.Errorf("Expected entry %d unlinked, got approval_id %d", id, *e.ApprovalID)
		case want != nil && (e.ApprovalID == nil || *e.ApprovalID != *want):
			t.Errorf("Expected entry %d linked to %d, got %v", id, *want, e.ApprovalID)
		}
	}
}

func TestSubmitAndApprove(t *testing.T) {
	svc, store, _ := setup(t)
	ctx := context.Background()
	ids := addEntries(t, store, employeeID, 800, 800, 800)

	a, err := svc.Submit(ctx, employeeID, weekStart, weekEnd)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if a.TotalHours != 40.0 {
		t.Errorf("Expected total_hours 40.0, got %v", a.TotalHours)
	}
	if a.Status != model.ApprovalPending {
		t.Errorf("Expected status PENDING, got %s", a.Status)
	}
	if a.SubmittedAt == nil {
		t.Error("Expected submitted_at to be set")
	}
	assertLinked(t, store, ids, &a.ID)

	approved, err := svc.Approve(ctx, validatorID, a.ID, strPtr("looks good"))
	if err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}
	if approved.Status != model.ApprovalApproved {
		t.Errorf("Expected status APPROVED, got %s", approved.Status)
	}
	if approved.ReviewedAt == nil {
		t.Error("Expected reviewed_at to be set")
	}
	if approved.ValidatorID == nil || *approved.ValidatorID != validatorID {
		t.Errorf("Expected validator_id %d, got %v", validatorID, approved.ValidatorID)
	}
	assertLinked(t, store, ids, &a.ID)

	events := store.Events()
	if len(events) != 2 {
		t.Fatalf("Expected 2 outbox events, got %d", len(events))
	}
	if events[0].RoutingKey != contracts.RoutingKeyTimesheetSubmitted || events[1].RoutingKey != contracts.RoutingKeyTimesheetApproved {
		t.Errorf("Unexpected routing keys: %s, %s", events[0].RoutingKey, events[1].RoutingKey)
	}
}

func TestSubmitPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("pending week", func(t *testing.T) {
		svc, store, _ := setup(t)
		addEntries(t, store, employeeID, 60)
		if _, err := svc.Submit(ctx, employeeID, weekStart, weekEnd); err != nil {
			t.Fatalf("Submit returned error: %v", err)
		}
		_, err := svc.Submit(ctx, employeeID, weekStart, weekEnd)
		if !errors.Is(err, approval.ErrAlreadySubmitted) {
			t.Errorf("Expected ErrAlreadySubmitted, got %v", err)
		}
	})

	t.Run("approved week", func(t *testing.T) {
		svc, store, _ := setup(t)
		addEntries(t, store, employeeID, 60)
		a, err := svc.Submit(ctx, employeeID, weekStart, weekEnd)
		if err != nil {
			t.Fatalf("Submit returned error: %v", err)
		}
		if _, err := svc.Approve(ctx, adminID, a.ID, nil); err != nil {
			t.Fatalf("Approve returned error: %v", err)
		}
		_, err = svc.Submit(ctx, employeeID, weekStart, weekEnd)
		if !errors.Is(err, approval.ErrAlreadyApproved) {
			t.Errorf("Expected ErrAlreadyApproved, got %v", err)
		}
	})

	t.Run("no entries", func(t *testing.T) {
		svc, store, _ := setup(t)
		addEntries(t, store, outsiderID, 60)
		_, err := svc.Submit(ctx, employeeID, weekStart, weekEnd)
		if !errors.Is(err, approval.ErrNoEntries) {
			t.Errorf("Expected ErrNoEntries, got %v", err)
		}
		if len(store.Events()) != 0 {
			t.Errorf("Expected no outbox events after refused submit, got %d", len(store.Events()))
		}
	})

	t.Run("inverted week", func(t *testing.T) {
		svc, _, _ := setup(t)
		_, err := svc.Submit(ctx, employeeID, weekEnd, weekStart)
		if !errors.Is(err, approval.ErrInvalidWeek) {
			t.Errorf("Expected ErrInvalidWeek, got %v", err)
		}
	})
}

func TestSubmitRequiresMondayToSundayWeek(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := setup(t)
	ids := addEntries(t, store, employeeID, 480, 480)

	approved, err := svc.Submit(ctx, employeeID, weekStart, weekEnd)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if _, err := svc.Approve(ctx, adminID, approved.ID, nil); err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}

	testCases := []struct {
		name  string
		start time.Time
		end   time.Time
	}{
		{"sunday start overlapping approved week", weekStart.AddDate(0, 0, -1), weekEnd},
		{"two weeks", weekStart, weekEnd.AddDate(0, 0, 7)},
		{"monday to saturday", weekStart.AddDate(0, 0, 7), weekEnd.AddDate(0, 0, 6)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, employeeID, tc.start, tc.end)
			if !errors.Is(err, approval.ErrInvalidWeek) {
				t.Errorf("Expected ErrInvalidWeek, got %v", err)
			}
		})
	}

	assertLinked(t, store, ids, &approved.ID)
	got, err := store.Get(ctx, approved.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.Status != model.ApprovalApproved {
		t.Errorf("Expected approval to stay APPROVED, got %s", got.Status)
	}
}

func TestSubmitRefusesEntriesOfAnotherApproval(t *testing.T) {
	ctx := context.Background()
	nextWeek := weekStart.AddDate(0, 0, 7)

	testCases := []struct {
		name    string
		approve bool
		wantErr error
	}{
		{"linked to pending", false, approval.ErrAlreadySubmitted},
		{"linked to approved", true, approval.ErrAlreadyApproved},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, _ := setup(t)
			addEntries(t, store, employeeID, 60)
			first, err := svc.Submit(ctx, employeeID, weekStart, weekEnd)
			if err != nil {
				t.Fatalf("Submit returned error: %v", err)
			}
			if tc.approve {
				if _, err := svc.Approve(ctx, adminID, first.ID, nil); err != nil {
					t.Fatalf("Approve returned error: %v", err)
				}
			}

			stray := &model.TimeEntry{UserID: employeeID, Date: nextWeek, DurationMinutes: 30, ApprovalID: intPtr(first.ID)}
			if err := store.CreateEntry(ctx, stray); err != nil {
				t.Fatalf("Failed to create entry: %v", err)
			}

			_, err = svc.Submit(ctx, employeeID, nextWeek, nextWeek.AddDate(0, 0, 6))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Expected %v, got %v", tc.wantErr, err)
			}
			assertLinked(t, store, []int{stray.ID}, &first.ID)

			list, err := svc.List(ctx, adminID, nil)
			if err != nil {
				t.Fatalf("List returned error: %v", err)
			}
			if len(list) != 1 {
				t.Errorf("Expected no second approval to be created, got %d approvals", len(list))
			}
		})
	}
}

func TestRejectThenResubmit(t *testing.T) {
	svc, store, clk := setup(t)
	ctx := context.Background()
	ids := addEntries(t, store, employeeID, 480, 480)

	first, err := svc.Submit(ctx, employeeID, weekStart, weekEnd)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	rejected, err := svc.Reject(ctx, managerID, first.ID, strPtr("missing friday"))
	if err != nil {
		t.Fatalf("Reject returned error: %v", err)
	}
	if rejected.Status != model.ApprovalRejected {
		t.Errorf("Expected status REJECTED, got %s", rejected.Status)
	}
	if rejected.Comments == nil || *rejected.Comments != "missing friday" {
		t.Errorf("Expected rejection comments stored, got %v", rejected.Comments)
	}
	assertLinked(t, store, ids, nil)

	clk.Advance(2 * time.Hour)
	more := addEntries(t, store, employeeID, 0, 0, 0, 0, 480)

	again, err := svc.Submit(ctx, employeeID, weekStart, weekEnd)
	if err != nil {
		t.Fatalf("Resubmit returned error: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("Expected resubmit to reuse approval %d, got %d", first.ID, again.ID)
	}
	if again.Status != model.ApprovalPending {
		t.Errorf("Expected status PENDING, got %s", again.Status)
	}
	if again.Comments != nil || again.ValidatorID != nil || again.ReviewedAt != nil {
		t.Errorf("Expected comments/validator/reviewed_at cleared, got %v %v %v", again.Comments, again.ValidatorID, again.ReviewedAt)
	}
	if !again.SubmittedAt.After(*first.SubmittedAt) {
		t.Errorf("Expected submitted_at updated, got %v (first %v)", again.SubmittedAt, first.SubmittedAt)
	}
	if again.TotalHours != 24 {
		t.Errorf("Expected total_hours 24, got %v", again.TotalHours)
	}
	assertLinked(t, store, append(ids, more...), &again.ID)
}

func TestReviewAuthorization(t *testing.T) {
	testCases := []struct {
		name    string
		actor   int
		reject  bool
		wantErr error
	}{
		{"employee cannot approve", employeeID, false, approval.ErrForbidden},
		{"employee cannot reject", outsiderID, true, approval.ErrForbidden},
		{"manager outside group cannot approve", otherManagerID, false, approval.ErrForbidden},
		{"manager outside group cannot reject", otherManagerID, true, approval.ErrForbidden},
		{"manager in group approves", managerID, false, nil},
		{"manager in group rejects", managerID, true, nil},
		{"validator approves", validatorID, false, nil},
		{"admin rejects", adminID, true, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, _ := setup(t)
			ctx := context.Background()
			ids := addEntries(t, store, employeeID, 120)
			a, err := svc.Submit(ctx, employeeID, weekStart, weekEnd)
			if err != nil {
				t.Fatalf("Submit returned error: %v", err)
			}

			if tc.reject {
				_, err = svc.Reject(ctx, tc.actor, a.ID, nil)
			} else {
				_, err = svc.Approve(ctx, tc.actor, a.ID, nil)
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Expected %v, got %v", tc.wantErr, err)
			}

			if tc.wantErr != nil {
				current, _ := store.Get(ctx, a.ID)
				if current.Status != model.ApprovalPending {
					t.Errorf("Expected state unchanged (PENDING), got %s", current.Status)
				}
				assertLinked(t, store, ids, &a.ID)
			}
		})
	}
}

func TestReviewRequiresPending(t *testing.T) {
	svc, store, _ := setup(t)
	ctx := context.Background()
	addEntries(t, store, employeeID, 60)

	a, err := svc.Submit(ctx, employeeID, weekStart, weekEnd)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if _, err := svc.Approve(ctx, adminID, a.ID, nil); err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}

	_, err = svc.Reject(ctx, adminID, a.ID, nil)
	if !errors.Is(err, approval.ErrInvalidState) {
		t.Fatalf("Expected ErrInvalidState, got %v", err)
	}
	var stateErr *approval.StateError
	if !errors.As(err, &stateErr) || stateErr.Current != model.ApprovalApproved {
		t.Errorf("Expected StateError with current APPROVED, got %v", err)
	}
	if !strings.Contains(err.Error(), "APPROVED") {
		t.Errorf("Expected message to include current status, got %q", err.Error())
	}

	if _, err := svc.Approve(ctx, adminID, 999, nil); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListScope(t *testing.T) {
	svc, store, clk := setup(t)
	ctx := context.Background()

	addEntries(t, store, employeeID, 60)
	addEntries(t, store, outsiderID, 60)
	mine, err := svc.Submit(ctx, employeeID, weekStart, weekEnd)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	clk.Advance(time.Minute)
	theirs, err := svc.Submit(ctx, outsiderID, weekStart, weekEnd)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	// 员工1 的上一周，已审批
	prev := &model.TimeEntry{UserID: employeeID, Date: weekStart.AddDate(0, 0, -7), DurationMinutes: 30}
	if err := store.CreateEntry(ctx, prev); err != nil {
		t.Fatalf("Failed to create entry: %v", err)
	}
	clk.Advance(time.Minute)
	older, err := svc.Submit(ctx, employeeID, weekStart.AddDate(0, 0, -7), weekStart.AddDate(0, 0, -1))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if _, err := svc.Approve(ctx, managerID, older.ID, nil); err != nil {
		t.Fatalf("Approve returned error: %v", err)
	}

	approved := model.ApprovalApproved
	testCases := []struct {
		name   string
		actor  int
		status *model.ApprovalStatus
		want   []int
	}{
		{"validator sees all pending newest first", validatorID, nil, []int{theirs.ID, mine.ID}},
		{"admin filters by status", adminID, &approved, []int{older.ID}},
		{"manager sees own group pending", managerID, nil, []int{mine.ID}},
		{"other manager sees own group pending", otherManagerID, nil, []int{theirs.ID}},
		{"employee sees own in any status", employeeID, nil, []int{older.ID, mine.ID}},
		{"employee status filter", employeeID, &approved, []int{older.ID}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			list, err := svc.List(ctx, tc.actor, tc.status)
			if err != nil {
				t.Fatalf("List returned error: %v", err)
			}
			if len(list) != len(tc.want) {
				t.Fatalf("Expected %d approvals, got %d", len(tc.want), len(list))
			}
			for i, id := range tc.want {
				if list[i].ID != id {
					t.Errorf("Expected approval %d at position %d, got %d", id, i, list[i].ID)
				}
			}
		})
	}
}

func TestGetVisibility(t *testing.T) {
	svc, store, _ := setup(t)
	ctx := context.Background()
	addEntries(t, store, employeeID, 60)
	a, err := svc.Submit(ctx, employeeID, weekStart, weekEnd)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	testCases := []struct {
		name    string
		actor   int
		wantErr error
	}{
		{"owner", employeeID, nil},
		{"group manager", managerID, nil},
		{"validator", validatorID, nil},
		{"other manager", otherManagerID, approval.ErrForbidden},
		{"other employee", outsiderID, approval.ErrForbidden},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Get(ctx, tc.actor, a.ID)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestConcurrentSubmitOnlyOneWins(t *testing.T) {
	svc, store, _ := setup(t)
	addEntries(t, store, employeeID, 60, 60)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Submit(context.Background(), employeeID, weekStart, weekEnd)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		switch {
		case err == nil:
			success++
		case !errors.Is(err, approval.ErrAlreadySubmitted):
			t.Errorf("Expected ErrAlreadySubmitted, got %v", err)
		}
	}
	if success != 1 {
		t.Errorf("Expected exactly 1 successful submit, got %d", success)
	}
}

func TestCheckEntryMutable(t *testing.T) {
	linked := &model.TimeEntry{ApprovalID: intPtr(7)}
	testCases := []struct {
		name    string
		entry   *model.TimeEntry
		status  *model.ApprovalStatus
		wantErr error
	}{
		{"unlinked", &model.TimeEntry{}, nil, nil},
		{"pending", linked, statusPtr(model.ApprovalPending), approval.ErrEntryLocked},
		{"approved", linked, statusPtr(model.ApprovalApproved), approval.ErrEntryLocked},
		{"rejected", linked, statusPtr(model.ApprovalRejected), nil},
		{"dangling link", linked, nil, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var a *model.TimesheetApproval
			if tc.status != nil {
				a = &model.TimesheetApproval{ID: 7, Status: *tc.status}
			}
			if err := approval.CheckEntryMutable(tc.entry, a); !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func statusPtr(s model.ApprovalStatus) *model.ApprovalStatus { return &s }

func TestKind(t *testing.T) {
	testCases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{approval.ErrForbidden, "forbidden"},
		{&approval.StateError{Current: model.ApprovalRejected}, "invalid_state"},
		{approval.ErrAlreadySubmitted, "already_submitted"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range testCases {
		if got := approval.Kind(tc.err); got != tc.want {
			t.Errorf("Expected kind %q for %v, got %q", tc.want, tc.err, got)
		}
	}
}
