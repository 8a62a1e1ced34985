package ops

import "time"

// Role gates what an operator may do. Only admins can reset errored sessions.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// Operator is a back-office account for the payment session console.
type Operator struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest carries the fields for creating an operator account.
type RegisterRequest struct {
	Email    string
	FullName string
	Password string
	Role     Role
}

// LoginRequest carries the credentials for a login attempt.
type LoginRequest struct {
	Email    string
	Password string
}
