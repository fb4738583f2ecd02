package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// HaltController — реализуется engine.HaltManager
type HaltController interface {
	SetHalted(ctx context.Context, tenantID string, halted bool) error
	IsHalted(tenantID string) bool
}

type HaltService struct {
	ctrl   HaltController
	logger *zap.Logger
}

func NewHaltService(ctrl HaltController, logger *zap.Logger) *HaltService {
	return &HaltService{ctrl: ctrl, logger: logger.Named("halt-service")}
}

// Halt мгновенно останавливает execute-интенты тенанта во всех инстансах.
func (s *HaltService) Halt(ctx context.Context, tenantID, actor string) error {
	return s.set(ctx, tenantID, actor, true, "automation-halt")
}

func (s *HaltService) Resume(ctx context.Context, tenantID, actor string) error {
	return s.set(ctx, tenantID, actor, false, "automation-resume")
}

func (s *HaltService) IsHalted(tenantID string) bool {
	return s.ctrl.IsHalted(tenantID)
}

func (s *HaltService) set(ctx context.Context, tenantID, actor string, halted bool, action string) error {
	if err := s.ctrl.SetHalted(ctx, tenantID, halted); err != nil {
		s.logger.Error("failed to switch automation state",
			zap.String("tenant_id", tenantID),
			zap.String("action", action),
			zap.Error(err))
		return fmt.Errorf("%s: %w", action, err)
	}
	s.logger.Info("automation state switched",
		zap.String("tenant_id", tenantID),
		zap.String("action", action),
		zap.String("actor", actor))
	return nil
}
