package repository

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/kwhtracker/internal/migration"
	tariffdomain "github.com/smallbiznis/kwhtracker/internal/tariff/domain"
	"github.com/smallbiznis/kwhtracker/pkg/db"
	"github.com/stretchr/testify/require"
)

func TestInsertDuplicateTierIsReported(t *testing.T) {
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, migration.AutoMigrate(conn))

	repo := Provide()
	ctx := context.Background()
	tier := tariffdomain.TariffTier{
		ID:              9,
		Label:           "R1 1300VA",
		MinNominal:      decimal.NewFromInt(20000),
		EffectiveTariff: decimal.RequireFromString("1444.7"),
		Active:          true,
	}
	require.NoError(t, repo.Insert(ctx, conn, &tier))

	again := tier
	require.ErrorIs(t, repo.Insert(ctx, conn, &again), tariffdomain.ErrDuplicateTier)
}
