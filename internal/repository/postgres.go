package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"timetrack/internal/approval"
	"timetrack/internal/model"
	"timetrack/pkg/db"
	"timetrack/pkg/otel"
	"timetrack/pkg/outbox"
	"timetrack/pkg/rbac"
)

const aggregateTimesheet = "timesheet"

const approvalColumns = `id, user_id, validator_id, week_start, week_end, total_hours, status,
	comments, submitted_at, reviewed_at, created_at, updated_at`

const entryColumns = `id, user_id, project_id, date, duration_minutes, description, billable,
	approval_id, started_at, created_at, updated_at`

// Postgres 基于 pgx 的存储实现
type Postgres struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	return &Postgres{
		db:     pool,
		outbox: outbox.NewRepository(pool),
		logger: logger,
	}
}

// querier pgxpool.Pool 和 pgx.Tx 的公共部分
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ---- approval.Store ----

func (p *Postgres) InTx(ctx context.Context, fn func(tx approval.Tx) error) error {
	return db.InTx(ctx, p.db, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx, outbox: p.outbox, logger: p.logger})
	})
}

func (p *Postgres) Get(ctx context.Context, id int) (*model.TimesheetApproval, error) {
	var a *model.TimesheetApproval
	err := otel.Observe(ctx, "select", "timesheet_approvals", func(ctx context.Context) error {
		var err error
		a, err = scanApproval(p.db.QueryRow(ctx, `SELECT `+approvalColumns+` FROM timesheet_approvals WHERE id = $1`, id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, approval.ErrNotFound
	}
	if err != nil {
		p.logger.Error("Failed to get approval", zap.Int("approval_id", id), zap.Error(err))
		return nil, err
	}
	return a, nil
}

func (p *Postgres) ListByFilter(ctx context.Context, scope rbac.Scope, status *model.ApprovalStatus) ([]model.TimesheetApproval, error) {
	query := `SELECT a.id, a.user_id, a.validator_id, a.week_start, a.week_end, a.total_hours, a.status,
		a.comments, a.submitted_at, a.reviewed_at, a.created_at, a.updated_at
		FROM timesheet_approvals a
		JOIN profiles p ON p.id = a.user_id
		WHERE ($1::text IS NULL OR a.status = $1)`
	args := []any{statusArg(status)}

	switch scope.Kind {
	case rbac.ScopeOwn:
		query += ` AND a.user_id = $2`
		args = append(args, scope.UserID)
	case rbac.ScopeGroup:
		if scope.GroupID == nil {
			return []model.TimesheetApproval{}, nil
		}
		query += ` AND p.group_id = $2`
		args = append(args, *scope.GroupID)
	}
	query += ` ORDER BY a.created_at DESC, a.id DESC`

	p.logger.Debug("Listing approvals", zap.Int("scope", int(scope.Kind)), zap.Int("actor_id", scope.UserID))

	list := []model.TimesheetApproval{}
	err := otel.Observe(ctx, "select", "timesheet_approvals", func(ctx context.Context) error {
		rows, err := p.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanApproval(rows)
			if err != nil {
				return err
			}
			list = append(list, *a)
		}
		return rows.Err()
	})
	if err != nil {
		p.logger.Error("Failed to list approvals", zap.Error(err))
		return nil, err
	}
	return list, nil
}

func statusArg(status *model.ApprovalStatus) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}

// userLockNamespace pg_advisory_xact_lock 的第一个 key，第二个 key 为 user_id
// 提交与新增/改期工时按用户串行化，避免工时漏挂到刚提交的周
const userLockNamespace = 7301

func lockUser(ctx context.Context, tx pgx.Tx, userID int) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, userLockNamespace, userID)
	if err != nil {
		return fmt.Errorf("failed to lock user %d: %w", userID, err)
	}
	return nil
}

// lockedWeekClause 日期所在周存在待审或已通过的审批，第三个参数指定的审批除外
const lockedWeekClause = `EXISTS (
	SELECT 1 FROM timesheet_approvals a
	WHERE a.user_id = %[1]s AND %[2]s BETWEEN a.week_start AND a.week_end
	AND a.status IN ('PENDING', 'APPROVED')
	AND a.id IS DISTINCT FROM %[3]s
)`

// ---- approval.Directory ----

func (p *Postgres) RoleOf(ctx context.Context, userID int) (rbac.Role, error) {
	var role string
	err := p.db.QueryRow(ctx, `SELECT role FROM profiles WHERE id = $1`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", approval.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load role: %w", err)
	}
	return rbac.ParseRole(role)
}

func (p *Postgres) GroupOf(ctx context.Context, userID int) (*int, error) {
	var group *int
	err := p.db.QueryRow(ctx, `SELECT group_id FROM profiles WHERE id = $1`, userID).Scan(&group)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, approval.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	return group, nil
}

// ProjectNames 项目 ID -> 名称
func (p *Postgres) ProjectNames(ctx context.Context) (map[int]string, error) {
	names := make(map[int]string)
	err := otel.Observe(ctx, "select", "projects", func(ctx context.Context) error {
		rows, err := p.db.Query(ctx, `SELECT id, name FROM projects`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int
			var name string
			if err := rows.Scan(&id, &name); err != nil {
				return err
			}
			names[id] = name
		}
		return rows.Err()
	})
	if err != nil {
		p.logger.Error("Failed to load project names", zap.Error(err))
		return nil, err
	}
	return names, nil
}

// ---- entry repository ----

func (p *Postgres) ListEntries(ctx context.Context, userID int, r model.DateRange) ([]model.TimeEntry, error) {
	entries, err := listEntriesFrom(ctx, p.db, userID, r, false)
	if err != nil {
		p.logger.Error("Failed to list entries", zap.Int("user_id", userID), zap.Error(err))
		return nil, err
	}
	return entries, nil
}

func (p *Postgres) GetEntry(ctx context.Context, id int) (*model.TimeEntry, error) {
	var e *model.TimeEntry
	err := otel.Observe(ctx, "select", "time_entries", func(ctx context.Context) error {
		var err error
		e, err = scanEntry(p.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM time_entries WHERE id = $1`, id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, approval.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// CreateEntry 与提交按用户串行；日期落在待审或已通过的周内时返回 approval.ErrEntryLocked
func (p *Postgres) CreateEntry(ctx context.Context, e *model.TimeEntry) error {
	p.logger.Debug("Inserting time entry",
		zap.Int("user_id", e.UserID),
		zap.Time("date", e.Date),
		zap.Int("duration_minutes", e.DurationMinutes),
	)
	err := db.InTx(ctx, p.db, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, e.UserID); err != nil {
			return err
		}
		return otel.Observe(ctx, "insert", "time_entries", func(ctx context.Context) error {
			return tx.QueryRow(ctx, `
				INSERT INTO time_entries (user_id, project_id, date, duration_minutes, description, billable, started_at)
				SELECT $1::integer, $2::integer, $3::date, $4::integer, $5::text, $6::boolean, $7::timestamptz
				WHERE NOT `+fmt.Sprintf(lockedWeekClause, "$1::integer", "$3::date", "NULL::integer")+`
				RETURNING id, created_at, updated_at
			`, e.UserID, e.ProjectID, model.DateOf(e.Date), e.DurationMinutes, e.Description, e.Billable, e.StartedAt,
			).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
		})
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return approval.ErrEntryLocked
	}
	if err != nil {
		p.logger.Error("Failed to insert time entry", zap.Int("user_id", e.UserID), zap.Error(err))
		return err
	}
	return nil
}

// UpdateEntry 仅当 approval_id 仍为读取时的值、且新日期所在周未被锁定时更新
func (p *Postgres) UpdateEntry(ctx context.Context, e *model.TimeEntry) error {
	var affected int64
	err := db.InTx(ctx, p.db, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, e.UserID); err != nil {
			return err
		}
		return otel.Observe(ctx, "update", "time_entries", func(ctx context.Context) error {
			tag, err := tx.Exec(ctx, `
				UPDATE time_entries
				SET project_id = $2, date = $3, duration_minutes = $4, description = $5, billable = $6, updated_at = NOW()
				WHERE id = $1 AND approval_id IS NOT DISTINCT FROM $7
				AND NOT `+fmt.Sprintf(lockedWeekClause, "time_entries.user_id", "$3::date", "$7::integer")+`
			`, e.ID, e.ProjectID, model.DateOf(e.Date), e.DurationMinutes, e.Description, e.Billable, e.ApprovalID)
			affected = tag.RowsAffected()
			return err
		})
	})
	if err != nil {
		p.logger.Error("Failed to update time entry", zap.Int("entry_id", e.ID), zap.Error(err))
		return err
	}
	if affected == 0 {
		return approval.ErrEntryLocked
	}
	return nil
}

func (p *Postgres) DeleteEntry(ctx context.Context, id int, linkedTo *int) error {
	var affected int64
	err := otel.Observe(ctx, "delete", "time_entries", func(ctx context.Context) error {
		tag, err := p.db.Exec(ctx, `
			DELETE FROM time_entries WHERE id = $1 AND approval_id IS NOT DISTINCT FROM $2
		`, id, linkedTo)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		p.logger.Error("Failed to delete time entry", zap.Int("entry_id", id), zap.Error(err))
		return err
	}
	if affected == 0 {
		return approval.ErrEntryLocked
	}
	return nil
}

// ---- approval.Tx ----

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
	logger *zap.Logger
}

func (t *pgTx) FindByUserAndWeek(ctx context.Context, userID int, weekStart time.Time) (*model.TimesheetApproval, error) {
	if err := lockUser(ctx, t.tx, userID); err != nil {
		return nil, err
	}
	var a *model.TimesheetApproval
	err := otel.Observe(ctx, "select_for_update", "timesheet_approvals", func(ctx context.Context) error {
		var err error
		a, err = scanApproval(t.tx.QueryRow(ctx, `
			SELECT `+approvalColumns+`
			FROM timesheet_approvals
			WHERE user_id = $1 AND week_start = $2
			FOR UPDATE
		`, userID, model.DateOf(weekStart)))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find approval: %w", err)
	}
	return a, nil
}

func (t *pgTx) GetForUpdate(ctx context.Context, id int) (*model.TimesheetApproval, error) {
	var a *model.TimesheetApproval
	err := otel.Observe(ctx, "select_for_update", "timesheet_approvals", func(ctx context.Context) error {
		var err error
		a, err = scanApproval(t.tx.QueryRow(ctx, `
			SELECT `+approvalColumns+` FROM timesheet_approvals WHERE id = $1 FOR UPDATE
		`, id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, approval.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load approval: %w", err)
	}
	return a, nil
}

// Insert 并发提交同一周时唯一索引冲突，映射为 ErrAlreadySubmitted
func (t *pgTx) Insert(ctx context.Context, a *model.TimesheetApproval) error {
	err := otel.Observe(ctx, "insert", "timesheet_approvals", func(ctx context.Context) error {
		return t.tx.QueryRow(ctx, `
			INSERT INTO timesheet_approvals (user_id, week_start, week_end, total_hours, status, submitted_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			RETURNING id
		`, a.UserID, a.WeekStart, a.WeekEnd, a.TotalHours, string(a.Status), a.SubmittedAt, a.CreatedAt,
		).Scan(&a.ID)
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return approval.ErrAlreadySubmitted
	}
	if err != nil {
		t.logger.Error("Failed to insert approval", zap.Int("user_id", a.UserID), zap.Error(err))
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

// UpdateStatus compare-and-swap：WHERE status = from
func (t *pgTx) UpdateStatus(ctx context.Context, a *model.TimesheetApproval, from model.ApprovalStatus) error {
	var affected int64
	err := otel.Observe(ctx, "update", "timesheet_approvals", func(ctx context.Context) error {
		tag, err := t.tx.Exec(ctx, `
			UPDATE timesheet_approvals
			SET status = $3, validator_id = $4, week_end = $5, total_hours = $6, comments = $7,
			    submitted_at = $8, reviewed_at = $9, updated_at = $10
			WHERE id = $1 AND status = $2
		`, a.ID, string(from), string(a.Status), a.ValidatorID, a.WeekEnd, a.TotalHours, a.Comments,
			a.SubmittedAt, a.ReviewedAt, a.UpdatedAt)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		t.logger.Error("Failed to update approval status", zap.Int("approval_id", a.ID), zap.Error(err))
		return fmt.Errorf("failed to update approval: %w", err)
	}
	if affected == 0 {
		return approval.ErrConcurrentUpdate
	}
	return nil
}

func (t *pgTx) ListEntries(ctx context.Context, userID int, r model.DateRange) ([]model.TimeEntry, error) {
	return listEntriesFrom(ctx, t.tx, userID, r, true)
}

func (t *pgTx) UpdateApprovalLink(ctx context.Context, entryIDs []int, approvalID *int) error {
	if len(entryIDs) == 0 {
		return nil
	}
	return otel.Observe(ctx, "update", "time_entries", func(ctx context.Context) error {
		_, err := t.tx.Exec(ctx, `
			UPDATE time_entries SET approval_id = $2, updated_at = NOW() WHERE id = ANY($1)
		`, entryIDs, approvalID)
		return err
	})
}

func (t *pgTx) UnlinkEntries(ctx context.Context, approvalID int) ([]int, error) {
	ids := []int{}
	err := otel.Observe(ctx, "update", "time_entries", func(ctx context.Context) error {
		rows, err := t.tx.Query(ctx, `
			UPDATE time_entries SET approval_id = NULL, updated_at = NOW()
			WHERE approval_id = $1
			RETURNING id
		`, approvalID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (t *pgTx) AddEvent(ctx context.Context, routingKey string, approvalID int, payload any) error {
	id := int64(approvalID)
	return outbox.InsertEventInTx(ctx, t.tx, t.outbox, aggregateTimesheet, &id, routingKey, payload)
}

// ---- scan helpers ----

func listEntriesFrom(ctx context.Context, q querier, userID int, r model.DateRange, lock bool) ([]model.TimeEntry, error) {
	query := `SELECT ` + entryColumns + `
		FROM time_entries
		WHERE user_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date ASC, id ASC`
	if lock {
		query += ` FOR UPDATE`
	}

	entries := []model.TimeEntry{}
	err := otel.Observe(ctx, "select", "time_entries", func(ctx context.Context) error {
		rows, err := q.Query(ctx, query, userID, r.Start, r.End)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, *e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return entries, nil
}

func scanApproval(row pgx.Row) (*model.TimesheetApproval, error) {
	var a model.TimesheetApproval
	var status string
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.ValidatorID,
		&a.WeekStart,
		&a.WeekEnd,
		&a.TotalHours,
		&status,
		&a.Comments,
		&a.SubmittedAt,
		&a.ReviewedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = model.ApprovalStatus(status)
	return &a, nil
}

func scanEntry(row pgx.Row) (*model.TimeEntry, error) {
	var e model.TimeEntry
	err := row.Scan(
		&e.ID,
		&e.UserID,
		&e.ProjectID,
		&e.Date,
		&e.DurationMinutes,
		&e.Description,
		&e.Billable,
		&e.ApprovalID,
		&e.StartedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
