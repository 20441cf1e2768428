package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"timetrack/internal/approval"
	"timetrack/internal/model"
)

func TestMemoryInTxRollsBackOnError(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	e := &model.TimeEntry{UserID: 1, Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), DurationMinutes: 60}
	if err := m.CreateEntry(ctx, e); err != nil {
		t.Fatalf("CreateEntry returned error: %v", err)
	}

	boom := errors.New("boom")
	err := m.InTx(ctx, func(tx approval.Tx) error {
		a := &model.TimesheetApproval{UserID: 1, WeekStart: e.Date, WeekEnd: e.Date, Status: model.ApprovalPending}
		if err := tx.Insert(ctx, a); err != nil {
			return err
		}
		if err := tx.UpdateApprovalLink(ctx, []int{e.ID}, &a.ID); err != nil {
			return err
		}
		if err := tx.AddEvent(ctx, "timesheet.submitted", a.ID, nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	got, _ := m.GetEntry(ctx, e.ID)
	if got.ApprovalID != nil {
		t.Errorf("Expected link rolled back, got approval_id %d", *got.ApprovalID)
	}
	if _, err := m.Get(ctx, 1); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("Expected approval rolled back, got %v", err)
	}
	if len(m.Events()) != 0 {
		t.Errorf("Expected no events after rollback, got %d", len(m.Events()))
	}
}

func TestMemoryUpdateStatusIsCompareAndSwap(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var id int
	err := m.InTx(ctx, func(tx approval.Tx) error {
		a := &model.TimesheetApproval{UserID: 1, WeekStart: day, WeekEnd: day, Status: model.ApprovalPending}
		if err := tx.Insert(ctx, a); err != nil {
			return err
		}
		id = a.ID
		return nil
	})
	if err != nil {
		t.Fatalf("InTx returned error: %v", err)
	}

	err = m.InTx(ctx, func(tx approval.Tx) error {
		a := &model.TimesheetApproval{ID: id, UserID: 1, WeekStart: day, Status: model.ApprovalApproved}
		return tx.UpdateStatus(ctx, a, model.ApprovalRejected)
	})
	if !errors.Is(err, approval.ErrConcurrentUpdate) {
		t.Errorf("Expected ErrConcurrentUpdate, got %v", err)
	}

	err = m.InTx(ctx, func(tx approval.Tx) error {
		dup := &model.TimesheetApproval{UserID: 1, WeekStart: day, WeekEnd: day, Status: model.ApprovalPending}
		return tx.Insert(ctx, dup)
	})
	if !errors.Is(err, approval.ErrAlreadySubmitted) {
		t.Errorf("Expected ErrAlreadySubmitted for duplicate week, got %v", err)
	}
}

func TestMemoryEntryLinkGuard(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	e := &model.TimeEntry{UserID: 1, Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), DurationMinutes: 30}
	if err := m.CreateEntry(ctx, e); err != nil {
		t.Fatalf("CreateEntry returned error: %v", err)
	}

	stale := 42
	if err := m.DeleteEntry(ctx, e.ID, &stale); !errors.Is(err, approval.ErrEntryLocked) {
		t.Errorf("Expected ErrEntryLocked for mismatched link, got %v", err)
	}
	if err := m.DeleteEntry(ctx, e.ID, nil); err != nil {
		t.Errorf("Expected delete to succeed, got %v", err)
	}
	if _, err := m.GetEntry(ctx, e.ID); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryEntryWritesRespectLockedWeek(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	monday := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	outside := &model.TimeEntry{UserID: 1, Date: monday.AddDate(0, 0, -2), DurationMinutes: 30}
	if err := m.CreateEntry(ctx, outside); err != nil {
		t.Fatalf("CreateEntry returned error: %v", err)
	}
	err := m.InTx(ctx, func(tx approval.Tx) error {
		a := &model.TimesheetApproval{UserID: 1, WeekStart: monday, WeekEnd: monday.AddDate(0, 0, 6), Status: model.ApprovalPending}
		return tx.Insert(ctx, a)
	})
	if err != nil {
		t.Fatalf("InTx returned error: %v", err)
	}

	testCases := []struct {
		name    string
		write   func() error
		wantErr error
	}{
		{"create in locked week", func() error {
			return m.CreateEntry(ctx, &model.TimeEntry{UserID: 1, Date: monday.AddDate(0, 0, 4), DurationMinutes: 30})
		}, approval.ErrEntryLocked},
		{"other user same week", func() error {
			return m.CreateEntry(ctx, &model.TimeEntry{UserID: 2, Date: monday.AddDate(0, 0, 4), DurationMinutes: 30})
		}, nil},
		{"move into locked week", func() error {
			moved := *outside
			moved.Date = monday.AddDate(0, 0, 1)
			return m.UpdateEntry(ctx, &moved)
		}, approval.ErrEntryLocked},
		{"update outside locked week", func() error {
			edited := *outside
			edited.DurationMinutes = 90
			return m.UpdateEntry(ctx, &edited)
		}, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.write(); !errors.Is(err, tc.wantErr) {
				t.Errorf("Expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}
