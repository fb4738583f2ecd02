package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/spaceai-automation/internal/identity"
	"github.com/xela07ax/spaceai-automation/internal/infra/auth"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "Encoding error", http.StatusInternalServerError)
	}
}

// callerTenant — консоль работает только с тенантом из токена, тенант в URL не принимается.
func callerTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := identity.TenantID(r.Context())
	if tenantID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return tenantID, true
}

func callerID(r *http.Request) string {
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		return claims.UserID
	}
	return ""
}
