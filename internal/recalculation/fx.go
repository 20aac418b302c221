package recalculation

import (
	"github.com/smallbiznis/kwhtracker/internal/recalculation/lock"
	"github.com/smallbiznis/kwhtracker/internal/recalculation/repository"
	"github.com/smallbiznis/kwhtracker/internal/recalculation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("recalculation.service",
	lock.Module,
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
