package policy

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/spaceai-automation/internal/infra"
)

// Listen подписывается на сигнал обновления настроек. Payload — tenant_id
// (или "*" для полного сброса). При переподключении кэш сбрасывается целиком.
func (a *Accessor) Listen(ctx context.Context, rdb *redis.Client) {
	infra.ListenResilient(ctx, rdb, a.logger, infra.RedisChanSettingsUpdate,
		func() error {
			a.Invalidate("")
			return nil
		},
		func(payload string) {
			tenantID := strings.TrimSpace(payload)
			if tenantID == "*" {
				tenantID = ""
			}
			a.Invalidate(tenantID)
		},
	)
}
