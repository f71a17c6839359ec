// Package auth provides JWT authentication for the gateway admin API.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Role grades what an API token may do.
type Role string

const (
	// RoleAdmin may perform mutating channel actions (reconnect, close).
	RoleAdmin Role = "admin"
	// RoleOperator may read channel and transaction state.
	RoleOperator Role = "operator"
)

// Claims are the JWT claims carried by gateway admin tokens.
type Claims struct {
	jwt.RegisteredClaims

	// Role is the token's privilege level ("admin" or "operator").
	Role Role `json:"role"`
}

// IsAdmin returns true if the token has the admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// CanRead returns true if the token may read gateway state. Every known
// role can.
func (c *Claims) CanRead() bool {
	return c.Role == RoleAdmin || c.Role == RoleOperator
}
