package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims — claims токена, выпущенного внешним слоем аутентификации.
type CustomClaims struct {
	UserID       string          `json:"user_id"`
	TenantID     string          `json:"tenant_id"`
	IndustryType string          `json:"industry_type"`
	Scopes       map[string]bool `json:"scopes"` // "admin": true или "automation.invoke": true
	jwt.RegisteredClaims
}
