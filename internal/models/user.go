package models

import (
	"golang.org/x/crypto/bcrypt"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// Actions checked by HasPermission.
const (
	PermViewSubjects = "view_subjects"
	PermPollSubjects = "poll_subjects"
	PermViewAlerts   = "view_alerts"
	PermViewRules    = "view_rules"
	PermViewReports  = "view_reports"
)

// User is an API operator account. Accounts come from configuration; only the
// bcrypt hash of the password is ever held.
type User struct {
	Username     string `json:"username" mapstructure:"username" validate:"required"`
	PasswordHash string `json:"-" mapstructure:"password_hash" validate:"required"`
	Role         Role   `json:"role" mapstructure:"role" validate:"required,oneof=admin viewer"`
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// HasPermission reports whether the user's role allows action. Admins may do
// anything; viewers only read.
func (u *User) HasPermission(action string) bool {
	switch u.Role {
	case RoleAdmin:
		return true
	case RoleViewer:
		switch action {
		case PermViewSubjects, PermViewAlerts, PermViewRules, PermViewReports:
			return true
		}
		return false
	default:
		return false
	}
}
