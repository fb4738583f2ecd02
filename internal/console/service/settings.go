package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-automation/internal/infra"
	"github.com/xela07ax/spaceai-automation/internal/policy"
)

// SettingsStore описывает требования сервиса к хранилищу настроек тенанта
type SettingsStore interface {
	GetSettings(ctx context.Context, tenantID string) (map[string]any, error)
	UpsertSetting(ctx context.Context, tenantID, path string, value any) error
	DeleteSetting(ctx context.Context, tenantID, path string) (bool, error)
}

// CacheInvalidator — локальный кэш политик в том же процессе (режим без Redis).
type CacheInvalidator interface {
	Invalidate(tenantID string)
}

type SettingsService struct {
	repo   SettingsStore
	rdb    *redis.Client
	local  CacheInvalidator
	logger *zap.Logger
}

// NewSettingsService: rdb и local могут быть nil.
func NewSettingsService(repo SettingsStore, rdb *redis.Client, local CacheInvalidator, logger *zap.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		rdb:    rdb,
		local:  local,
		logger: logger.Named("settings-service"),
	}
}

// GetAll возвращает весь документ настроек тенанта
func (s *SettingsService) GetAll(ctx context.Context, tenantID string) (map[string]any, error) {
	doc, err := s.repo.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("settings_service: failed to load settings: %w", err)
	}
	return doc, nil
}

// Get возвращает значение по пути. found=false — настройки нет.
func (s *SettingsService) Get(ctx context.Context, tenantID, path string) (any, bool, error) {
	doc, err := s.GetAll(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	v, ok := policy.Resolve(doc, path)
	return v, ok, nil
}

// Set сохраняет значение и инициирует инвалидацию кэша во всех инстансах
func (s *SettingsService) Set(ctx context.Context, tenantID, path string, value any) error {
	if err := s.repo.UpsertSetting(ctx, tenantID, path, value); err != nil {
		return fmt.Errorf("settings_service: failed to save %s: %w", path, err)
	}
	s.logger.Info("setting updated",
		zap.String("tenant_id", tenantID),
		zap.String("path", path),
		zap.Any("value", value))
	s.notifyUpdate(ctx, tenantID)
	return nil
}

// Delete удаляет значение. Отсутствующая настройка читается как выключенная.
func (s *SettingsService) Delete(ctx context.Context, tenantID, path string) (bool, error) {
	removed, err := s.repo.DeleteSetting(ctx, tenantID, path)
	if err != nil {
		return false, fmt.Errorf("settings_service: failed to delete %s: %w", path, err)
	}
	if removed {
		s.logger.Info("setting removed", zap.String("tenant_id", tenantID), zap.String("path", path))
		s.notifyUpdate(ctx, tenantID)
	}
	return removed, nil
}

// notifyUpdate отправляет широковещательный сигнал в Redis.
// Все инстансы движка, подписанные на канал, сбросят кэш этого тенанта.
// Сбой доставки не откатывает запись: кэш истечет по TTL.
func (s *SettingsService) notifyUpdate(ctx context.Context, tenantID string) {
	if s.local != nil {
		s.local.Invalidate(tenantID)
	}
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanSettingsUpdate, tenantID).Err(); err != nil {
		s.logger.Warn("settings invalidation signal failed",
			zap.String("tenant_id", tenantID),
			zap.String("channel", infra.RedisChanSettingsUpdate),
			zap.Error(err))
	}
}
