package model

import "errors"

// ProjectStatus 项目状态
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectPaused    ProjectStatus = "PAUSED"
	ProjectCompleted ProjectStatus = "COMPLETED"
	ProjectArchived  ProjectStatus = "ARCHIVED"
)

// Project 项目，最多一层父子关系
type Project struct {
	ID          int           `json:"id"`
	Name        string        `json:"name"`
	Color       string        `json:"color"`
	ParentID    *int          `json:"parent_id,omitempty"`
	Billable    bool          `json:"billable"`
	HourlyRate  *float64      `json:"hourly_rate,omitempty"`
	BudgetHours *float64      `json:"budget_hours,omitempty"`
	Status      ProjectStatus `json:"status"`
}

var (
	ErrParentNotFound     = errors.New("parent project not found")
	ErrParentIsSelf       = errors.New("project cannot be its own parent")
	ErrParentNested       = errors.New("parent project already has a parent")
	ErrProjectHasChildren = errors.New("project with children cannot be nested")
)

// ValidateParent 校验父项目：只允许一层嵌套，不允许自引用
// parent 为 nil 表示父项目不存在；hasChildren 表示 project 当前是否有子项目
func ValidateParent(project *Project, parent *Project, hasChildren bool) error {
	if project.ParentID == nil {
		return nil
	}
	if parent == nil {
		return ErrParentNotFound
	}
	if parent.ID == project.ID {
		return ErrParentIsSelf
	}
	if parent.ParentID != nil {
		return ErrParentNested
	}
	if hasChildren {
		return ErrProjectHasChildren
	}
	return nil
}

// CanHardDelete 有子项目或关联工时的项目只能归档
func CanHardDelete(hasChildren bool, entryCount int) bool {
	return !hasChildren && entryCount == 0
}
