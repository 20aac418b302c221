package snapshot

import (
	recalculationdomain "github.com/smallbiznis/kwhtracker/internal/recalculation/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("snapshot",
	fx.Provide(New),
	fx.Provide(func(c *Cache) recalculationdomain.CacheInvalidator { return c }),
)
