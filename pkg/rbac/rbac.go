package rbac

import (
	"fmt"
	"strings"
)

// Role 用户角色
type Role string

// 角色常量
const (
	RoleAdmin     Role = "ADMIN"
	RoleManager   Role = "MANAGER"
	RoleEmployee  Role = "EMPLOYEE"
	RoleValidator Role = "VALIDATOR"
)

// 权限常量
const (
	// 审批权限
	PermissionReviewAny   = "timesheet:review_any"
	PermissionReviewGroup = "timesheet:review_group"

	// 普通操作权限
	PermissionSubmitTimesheet = "timesheet:submit"
	PermissionReadOwn         = "timesheet:read_own"
	PermissionWriteEntry      = "entry:write"

	// 运维权限
	PermissionOutboxReplay = "outbox:replay"
)

// 角色权限映射
var rolePermissions = map[Role][]string{
	RoleEmployee: {
		PermissionSubmitTimesheet,
		PermissionReadOwn,
		PermissionWriteEntry,
	},
	RoleManager: {
		PermissionSubmitTimesheet,
		PermissionReadOwn,
		PermissionWriteEntry,
		PermissionReviewGroup,
	},
	RoleValidator: {
		PermissionSubmitTimesheet,
		PermissionReadOwn,
		PermissionWriteEntry,
		PermissionReviewAny,
	},
	RoleAdmin: {
		PermissionSubmitTimesheet,
		PermissionReadOwn,
		PermissionWriteEntry,
		PermissionReviewAny,
		PermissionOutboxReplay,
	},
}

// ParseRole 解析角色字符串（大小写不敏感）
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := rolePermissions[r]; !ok {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Valid 判断角色是否合法
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role Role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查用户是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(userID int, role Role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// CanReview 判断审批人能否审批目标用户的工时单
// ADMIN/VALIDATOR 不受范围限制；MANAGER 仅限同组（双方都必须有组）；其余角色一律拒绝
func CanReview(actorRole Role, actorGroup, targetGroup *int) bool {
	if HasPermission(actorRole, PermissionReviewAny) {
		return true
	}
	if HasPermission(actorRole, PermissionReviewGroup) {
		return actorGroup != nil && targetGroup != nil && *actorGroup == *targetGroup
	}
	return false
}

// ScopeKind 列表可见范围
type ScopeKind int

const (
	ScopeOwn   ScopeKind = iota // 仅本人
	ScopeGroup                  // 本组成员
	ScopeAll                    // 全部
)

// Scope 列表查询的可见范围
type Scope struct {
	Kind    ScopeKind
	UserID  int
	GroupID *int
}

// ListScope 根据角色计算审批列表的可见范围
func ListScope(actorID int, actorRole Role, actorGroup *int) Scope {
	switch {
	case HasPermission(actorRole, PermissionReviewAny):
		return Scope{Kind: ScopeAll, UserID: actorID}
	case HasPermission(actorRole, PermissionReviewGroup):
		return Scope{Kind: ScopeGroup, UserID: actorID, GroupID: actorGroup}
	default:
		return Scope{Kind: ScopeOwn, UserID: actorID}
	}
}

// CanView 判断某个范围是否能看到目标用户的记录
func (s Scope) CanView(targetUserID int, targetGroup *int) bool {
	switch s.Kind {
	case ScopeAll:
		return true
	case ScopeGroup:
		return s.GroupID != nil && targetGroup != nil && *s.GroupID == *targetGroup
	default:
		return s.UserID == targetUserID
	}
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     int
	Role       Role
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
