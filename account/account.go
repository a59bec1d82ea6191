// Package account owns user credentials: the sealed account records, login
// verification, and password rotation.
package account

import (
	"fmt"
	"time"
)

// Role is the kind of principal an account acts as.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleCompany Role = "company"
)

// ParseRole validates s as a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleTeacher, RoleCompany:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Collection is the plural path segment used by downstream services for
// this role.
func (r Role) Collection() string {
	switch r {
	case RoleCompany:
		return "companies"
	default:
		return "teachers"
	}
}

// Identity is the outcome of a successful credential check.
type Identity struct {
	RoleID int64
	Role   Role
	Email  string
	Region string
}

// Account is the persisted credential record. PasswordHash is an argon2id
// PHC string and never leaves the process.
type Account struct {
	RoleID       int64     `json:"role_id" yaml:"role_id"`
	Role         Role      `json:"role" yaml:"role"`
	Email        string    `json:"email" yaml:"email"`
	Region       string    `json:"region,omitempty" yaml:"region"`
	PasswordHash string    `json:"password_hash" yaml:"-"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`

	version uint64
}

// Identity returns the login identity for the account.
func (a Account) Identity() Identity {
	return Identity{
		RoleID: a.RoleID,
		Role:   a.Role,
		Email:  a.Email,
		Region: a.Region,
	}
}

// Version is the storage version the record was loaded at.
func (a Account) Version() uint64 { return a.version }
