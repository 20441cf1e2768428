package repository

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"timetrack/internal/approval"
	"timetrack/internal/model"
	"timetrack/pkg/rbac"
)

// OutboxRecord 内存存储中记录的 outbox 事件
type OutboxRecord struct {
	RoutingKey string
	ApprovalID int
	Payload    any
}

// Memory 内存存储，用于测试和本地演示
// mu 保护工时、审批和事件；dirMu 保护用户和项目目录，审批事务内会读取目录
type Memory struct {
	mu        sync.Mutex
	entries   map[int]model.TimeEntry
	approvals map[int]model.TimesheetApproval
	events    []OutboxRecord
	nextEntry int
	nextAppr  int

	dirMu    sync.RWMutex
	profiles map[int]model.Profile
	projects map[int]model.Project
}

func NewMemory() *Memory {
	return &Memory{
		entries:   make(map[int]model.TimeEntry),
		approvals: make(map[int]model.TimesheetApproval),
		profiles:  make(map[int]model.Profile),
		projects:  make(map[int]model.Project),
	}
}

// PutProfile 写入或覆盖用户资料
func (m *Memory) PutProfile(p model.Profile) {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	m.profiles[p.ID] = p
}

// PutProject 写入或覆盖项目
func (m *Memory) PutProject(p model.Project) {
	m.dirMu.Lock()
	defer m.dirMu.Unlock()
	m.projects[p.ID] = p
}

// Events 已写入的 outbox 事件副本
func (m *Memory) Events() []OutboxRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutboxRecord(nil), m.events...)
}

// ---- approval.Directory ----

func (m *Memory) RoleOf(ctx context.Context, userID int) (rbac.Role, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return "", approval.ErrNotFound
	}
	return p.Role, nil
}

func (m *Memory) GroupOf(ctx context.Context, userID int) (*int, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, approval.ErrNotFound
	}
	return p.GroupID, nil
}

// ProjectNames 项目 ID -> 名称
func (m *Memory) ProjectNames(ctx context.Context) (map[int]string, error) {
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()
	names := make(map[int]string, len(m.projects))
	for id, p := range m.projects {
		names[id] = p.Name
	}
	return names, nil
}

// ---- approval.Store ----

// InTx 持有 mu 执行 fn，fn 在快照上修改，只有返回 nil 时才提交
func (m *Memory) InTx(ctx context.Context, fn func(tx approval.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		entries:   maps.Clone(m.entries),
		approvals: maps.Clone(m.approvals),
		nextAppr:  m.nextAppr,
	}
	if err := fn(tx); err != nil {
		return err
	}

	m.entries = tx.entries
	m.approvals = tx.approvals
	m.nextAppr = tx.nextAppr
	m.events = append(m.events, tx.events...)
	return nil
}

func (m *Memory) Get(ctx context.Context, id int) (*model.TimesheetApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, approval.ErrNotFound
	}
	return &a, nil
}

func (m *Memory) ListByFilter(ctx context.Context, scope rbac.Scope, status *model.ApprovalStatus) ([]model.TimesheetApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirMu.RLock()
	defer m.dirMu.RUnlock()

	list := []model.TimesheetApproval{}
	for _, a := range m.approvals {
		if status != nil && a.Status != *status {
			continue
		}
		if !scope.CanView(a.UserID, m.profiles[a.UserID].GroupID) {
			continue
		}
		list = append(list, a)
	}
	sortByCreatedDesc(list)
	return list, nil
}

func sortByCreatedDesc(list []model.TimesheetApproval) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
}

// lockingApproval 覆盖 date 且处于 PENDING/APPROVED 的审批，调用方持有 mu
func (m *Memory) lockingApproval(userID int, date time.Time) *model.TimesheetApproval {
	for _, a := range m.approvals {
		if a.UserID != userID || !a.Status.Locks() {
			continue
		}
		if (model.DateRange{Start: a.WeekStart, End: a.WeekEnd}).Contains(date) {
			return &a
		}
	}
	return nil
}

// ---- entry repository ----

func (m *Memory) ListEntries(ctx context.Context, userID int, r model.DateRange) ([]model.TimeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return listEntries(m.entries, userID, r), nil
}

func (m *Memory) GetEntry(ctx context.Context, id int) (*model.TimeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, approval.ErrNotFound
	}
	return &e, nil
}

// CreateEntry 日期落在待审或已通过的周内时返回 approval.ErrEntryLocked
func (m *Memory) CreateEntry(ctx context.Context, e *model.TimeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lockingApproval(e.UserID, e.Date) != nil {
		return approval.ErrEntryLocked
	}
	m.nextEntry++
	e.ID = m.nextEntry
	e.Date = model.DateOf(e.Date)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.UpdatedAt = e.CreatedAt
	m.entries[e.ID] = *e
	return nil
}

// UpdateEntry 仅当存储中的 approval_id 与 e.ApprovalID 一致、且新日期所在周未被其他审批锁定时更新
func (m *Memory) UpdateEntry(ctx context.Context, e *model.TimeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries[e.ID]
	if !ok {
		return approval.ErrNotFound
	}
	if !sameLink(cur.ApprovalID, e.ApprovalID) {
		return approval.ErrEntryLocked
	}
	if lock := m.lockingApproval(e.UserID, e.Date); lock != nil && !sameLink(e.ApprovalID, &lock.ID) {
		return approval.ErrEntryLocked
	}
	e.Date = model.DateOf(e.Date)
	e.CreatedAt = cur.CreatedAt
	m.entries[e.ID] = *e
	return nil
}

// DeleteEntry 仅当存储中的 approval_id 与 linkedTo 一致时删除
func (m *Memory) DeleteEntry(ctx context.Context, id int, linkedTo *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.entries[id]
	if !ok {
		return approval.ErrNotFound
	}
	if !sameLink(cur.ApprovalID, linkedTo) {
		return approval.ErrEntryLocked
	}
	delete(m.entries, id)
	return nil
}

func sameLink(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func listEntries(entries map[int]model.TimeEntry, userID int, r model.DateRange) []model.TimeEntry {
	out := []model.TimeEntry{}
	for _, e := range entries {
		if e.UserID == userID && r.Contains(e.Date) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// memTx 审批事务的快照
type memTx struct {
	entries   map[int]model.TimeEntry
	approvals map[int]model.TimesheetApproval
	events    []OutboxRecord
	nextAppr  int
}

func (t *memTx) FindByUserAndWeek(ctx context.Context, userID int, weekStart time.Time) (*model.TimesheetApproval, error) {
	ws := model.DateOf(weekStart)
	for _, a := range t.approvals {
		if a.UserID == userID && a.WeekStart.Equal(ws) {
			return &a, nil
		}
	}
	return nil, nil
}

func (t *memTx) GetForUpdate(ctx context.Context, id int) (*model.TimesheetApproval, error) {
	a, ok := t.approvals[id]
	if !ok {
		return nil, approval.ErrNotFound
	}
	return &a, nil
}

func (t *memTx) Insert(ctx context.Context, a *model.TimesheetApproval) error {
	for _, cur := range t.approvals {
		if cur.UserID == a.UserID && cur.WeekStart.Equal(a.WeekStart) {
			return approval.ErrAlreadySubmitted
		}
	}
	t.nextAppr++
	a.ID = t.nextAppr
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	t.approvals[a.ID] = *a
	return nil
}

func (t *memTx) UpdateStatus(ctx context.Context, a *model.TimesheetApproval, from model.ApprovalStatus) error {
	cur, ok := t.approvals[a.ID]
	if !ok {
		return approval.ErrNotFound
	}
	if cur.Status != from {
		return approval.ErrConcurrentUpdate
	}
	t.approvals[a.ID] = *a
	return nil
}

func (t *memTx) ListEntries(ctx context.Context, userID int, r model.DateRange) ([]model.TimeEntry, error) {
	return listEntries(t.entries, userID, r), nil
}

func (t *memTx) UpdateApprovalLink(ctx context.Context, entryIDs []int, approvalID *int) error {
	for _, id := range entryIDs {
		e, ok := t.entries[id]
		if !ok {
			return approval.ErrNotFound
		}
		e.ApprovalID = copyIntPtr(approvalID)
		t.entries[id] = e
	}
	return nil
}

func (t *memTx) UnlinkEntries(ctx context.Context, approvalID int) ([]int, error) {
	var ids []int
	for id, e := range t.entries {
		if e.ApprovalID != nil && *e.ApprovalID == approvalID {
			e.ApprovalID = nil
			t.entries[id] = e
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (t *memTx) AddEvent(ctx context.Context, routingKey string, approvalID int, payload any) error {
	t.events = append(t.events, OutboxRecord{RoutingKey: routingKey, ApprovalID: approvalID, Payload: payload})
	return nil
}

func copyIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
