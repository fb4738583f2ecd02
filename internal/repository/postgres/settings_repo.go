package postgres

/*
Файл settings_repo.go хранит настройки политик тенанта одним JSON-документом.
Чтение идет через policy.Accessor (кэш + breaker), запись только из консоли.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/spaceai-automation/internal/policy"
)

type SettingsRepo struct {
	db *sql.DB
}

func NewSettingsRepo(db *sql.DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// GetSettings возвращает документ тенанта. Отсутствие строки — пустой документ, не ошибка.
func (r *SettingsRepo) GetSettings(ctx context.Context, tenantID string) (map[string]any, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT settings FROM tenant_settings WHERE tenant_id = $1`, tenantID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get settings: %w", err)
	}
	return decodeDoc(raw)
}

// UpsertSetting записывает значение по пути. Read-modify-write под блокировкой строки.
func (r *SettingsRepo) UpsertSetting(ctx context.Context, tenantID, path string, value any) error {
	return r.modify(ctx, tenantID, func(doc map[string]any) (map[string]any, bool, error) {
		out, err := policy.Assign(doc, path, value)
		return out, true, err
	})
}

// DeleteSetting удаляет значение по пути. Возвращает false, если его не было.
func (r *SettingsRepo) DeleteSetting(ctx context.Context, tenantID, path string) (bool, error) {
	var found bool
	err := r.modify(ctx, tenantID, func(doc map[string]any) (map[string]any, bool, error) {
		found = policy.Remove(doc, path)
		return doc, found, nil
	})
	return found, err
}

func (r *SettingsRepo) modify(ctx context.Context, tenantID string, fn func(map[string]any) (map[string]any, bool, error)) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT settings FROM tenant_settings WHERE tenant_id = $1 FOR UPDATE`, tenantID).Scan(&raw)
	doc := map[string]any{}
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("postgres: lock settings: %w", err)
	default:
		if doc, err = decodeDoc(raw); err != nil {
			return err
		}
	}

	doc, changed, err := fn(doc)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres: encode settings: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, settings, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET settings = EXCLUDED.settings, updated_at = NOW()`,
		tenantID, payload)
	if err != nil {
		return fmt.Errorf("postgres: save settings: %w", err)
	}
	return tx.Commit()
}

func decodeDoc(raw []byte) (map[string]any, error) {
	doc := map[string]any{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("postgres: decode settings: %w", err)
	}
	return doc, nil
}
