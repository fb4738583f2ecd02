package handler

import (
	"net/http"
	"strconv"

	"github.com/xela07ax/spaceai-automation/internal/console/service"
	"github.com/xela07ax/spaceai-automation/internal/domain"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetLogs возвращает события аудита тенанта с фильтрацией
// GET /v1/audit?operation_type=...&status=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := callerTenant(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := domain.AuditFilter{
		TenantID:      tenantID,
		OperationType: q.Get("operation_type"),
		Status:        domain.AuditStatus(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	logs, err := h.service.FetchLogs(r.Context(), filter)
	if err != nil {
		http.Error(w, "Failed to fetch audit logs", http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []domain.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, logs)
}
