package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "spaceai"
)

// Ключи состояния
const (
	RedisKeyHaltedTenants = RedisNamespace + ":automation:halted_set"
	redisKeyDedupPrefix   = RedisNamespace + ":automation:dedup:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanSettingsUpdate — консоль сообщает об изменении настроек тенанта, payload = tenant_id.
	RedisChanSettingsUpdate = RedisNamespace + ":settings:update"
	// RedisChanHalt — остановка/возобновление автоматизации тенанта, payload = "tenant_id:on|off".
	RedisChanHalt = RedisNamespace + ":automation:halt-signal"
)

// DedupKey — ключ отпечатка идемпотентности в рамках тенанта.
func DedupKey(tenantID, fingerprint string) string {
	return fmt.Sprintf("%s%s:%s", redisKeyDedupPrefix, tenantID, fingerprint)
}
