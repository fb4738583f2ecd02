package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/spaceai-automation/internal/domain"
)

// AuditLogProvider описывает контракт для чтения данных аудита.
// Реализуется postgres.AuditRepo и audit.MemoryStorage.
type AuditLogProvider interface {
	FetchLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

// FetchLogs запрашивает логи с фильтрацией. Без тенанта выборка не выполняется.
func (s *AuditService) FetchLogs(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	if filter.TenantID == "" {
		return nil, fmt.Errorf("audit_service: tenant_id is required")
	}
	logs, err := s.repo.FetchLogs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}
