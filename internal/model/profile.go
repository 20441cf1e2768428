package model

import "timetrack/pkg/rbac"

type Profile struct {
	ID      int       `json:"id"`
	Email   string    `json:"email"`
	Name    string    `json:"name"`
	Role    rbac.Role `json:"role"`
	GroupID *int      `json:"group_id,omitempty"`
}

type Group struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ManagerID *int   `json:"manager_id,omitempty"`
}
