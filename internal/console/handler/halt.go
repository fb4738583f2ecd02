package handler

import (
	"net/http"

	"github.com/xela07ax/spaceai-automation/internal/console/service"
)

type HaltHandler struct {
	service *service.HaltService
}

func NewHaltHandler(s *service.HaltService) *HaltHandler {
	return &HaltHandler{service: s}
}

type haltStatus struct {
	TenantID string `json:"tenant_id"`
	Halted   bool   `json:"halted"`
}

// Status GET /v1/automation/status
func (h *HaltHandler) Status(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := callerTenant(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, haltStatus{TenantID: tenantID, Halted: h.service.IsHalted(tenantID)})
}

// Halt — мгновенная остановка автоматизации тенанта (Kill-switch)
// POST /v1/automation/halt
func (h *HaltHandler) Halt(w http.ResponseWriter, r *http.Request) {
	h.switchState(w, r, true)
}

// Resume POST /v1/automation/resume
func (h *HaltHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.switchState(w, r, false)
}

func (h *HaltHandler) switchState(w http.ResponseWriter, r *http.Request, halt bool) {
	tenantID, ok := callerTenant(w, r)
	if !ok {
		return
	}
	var err error
	if halt {
		err = h.service.Halt(r.Context(), tenantID, callerID(r))
	} else {
		err = h.service.Resume(r.Context(), tenantID, callerID(r))
	}
	if err != nil {
		http.Error(w, "Failed to switch automation state", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, haltStatus{TenantID: tenantID, Halted: halt})
}
