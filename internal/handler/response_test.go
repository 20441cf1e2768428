package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"timetrack/internal/approval"
	"timetrack/internal/entry"
	"timetrack/internal/model"
)

func TestStatusOf(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want int
	}{
		{"forbidden", approval.ErrForbidden, http.StatusForbidden},
		{"not found", fmt.Errorf("load: %w", approval.ErrNotFound), http.StatusNotFound},
		{"invalid state", &approval.StateError{Current: model.ApprovalApproved}, http.StatusConflict},
		{"already submitted", approval.ErrAlreadySubmitted, http.StatusConflict},
		{"already approved", approval.ErrAlreadyApproved, http.StatusConflict},
		{"entry locked", approval.ErrEntryLocked, http.StatusConflict},
		{"concurrent update", approval.ErrConcurrentUpdate, http.StatusConflict},
		{"no entries", approval.ErrNoEntries, http.StatusUnprocessableEntity},
		{"invalid week", approval.ErrInvalidWeek, http.StatusUnprocessableEntity},
		{"invalid entry", fmt.Errorf("%w: bad duration", entry.ErrInvalidEntry), http.StatusUnprocessableEntity},
		{"canceled", context.Canceled, http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusOf(tc.err); got != tc.want {
				t.Errorf("Expected %d, got %d", tc.want, got)
			}
		})
	}
}
