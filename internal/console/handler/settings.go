package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/spaceai-automation/internal/console/service"
	"github.com/xela07ax/spaceai-automation/internal/policy"
)

type SettingsHandler struct {
	service *service.SettingsService
}

func NewSettingsHandler(s *service.SettingsService) *SettingsHandler {
	return &SettingsHandler{service: s}
}

type settingValue struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// List возвращает весь документ настроек тенанта
// GET /v1/settings
func (h *SettingsHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := callerTenant(w, r)
	if !ok {
		return
	}
	doc, err := h.service.GetAll(r.Context(), tenantID)
	if err != nil {
		http.Error(w, "Failed to fetch settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Get возвращает одно значение по точечному пути
// GET /v1/settings/{path}
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := callerTenant(w, r)
	if !ok {
		return
	}
	path := chi.URLParam(r, "path")

	v, found, err := h.service.Get(r.Context(), tenantID, path)
	if err != nil {
		http.Error(w, "Failed to fetch setting", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "Setting not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, settingValue{Path: path, Value: v})
}

// Put записывает значение, тело: {"value": true}
// PUT /v1/settings/{path}
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := callerTenant(w, r)
	if !ok {
		return
	}
	path := chi.URLParam(r, "path")

	var body struct {
		Value *json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value == nil {
		http.Error(w, "Invalid request body: value is required", http.StatusBadRequest)
		return
	}
	var value any
	if err := json.Unmarshal(*body.Value, &value); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.Set(r.Context(), tenantID, path, value); err != nil {
		if errors.Is(err, policy.ErrInvalidPath) {
			http.Error(w, "Invalid settings path", http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to save setting", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settingValue{Path: path, Value: value})
}

// Delete удаляет значение по пути
// DELETE /v1/settings/{path}
func (h *SettingsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := callerTenant(w, r)
	if !ok {
		return
	}
	removed, err := h.service.Delete(r.Context(), tenantID, chi.URLParam(r, "path"))
	if err != nil {
		http.Error(w, "Failed to delete setting", http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, "Setting not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
