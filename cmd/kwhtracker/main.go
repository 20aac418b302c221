package main

import (
	"context"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kwhtracker/internal/clock"
	"github.com/smallbiznis/kwhtracker/internal/config"
	"github.com/smallbiznis/kwhtracker/internal/consumption"
	"github.com/smallbiznis/kwhtracker/internal/migration"
	"github.com/smallbiznis/kwhtracker/internal/observability"
	"github.com/smallbiznis/kwhtracker/internal/reading"
	"github.com/smallbiznis/kwhtracker/internal/recalculation"
	"github.com/smallbiznis/kwhtracker/internal/snapshot"
	"github.com/smallbiznis/kwhtracker/internal/tariff"
	"github.com/smallbiznis/kwhtracker/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		tariff.Module,
		snapshot.Module,
		recalculation.Module,
		reading.Module,
		consumption.Module,

		fx.Invoke(RegisterReport),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

// RegisterReport logs the consumption snapshot of the configured user and stops the app.
func RegisterReport(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, svc *consumption.Service, log *zap.Logger) {
	log = log.Named("report")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			defer func() {
				_ = shutdowner.Shutdown()
			}()

			if cfg.ReportUserID == 0 {
				log.Info("no report user configured, set REPORT_USER_ID")
				return nil
			}

			userID := strconv.FormatInt(cfg.ReportUserID, 10)
			snap, err := svc.Snapshot(ctx, userID)
			if err != nil {
				return err
			}

			fields := []zap.Field{
				zap.String("user_id", userID),
				zap.String("timezone", snap.Timezone),
				zap.String("today", snap.Today.String()),
				zap.Int("readings", snap.Readings),
				zap.Int("days", len(snap.Daily)),
				zap.Float64("total_kwh", snap.TotalKwh),
				zap.String("status", string(snap.Prediction.Status)),
				zap.Float64("remaining_kwh", snap.Prediction.RemainingKwh),
				zap.Float64("avg_daily_kwh", snap.Prediction.AvgDailyUsage),
			}
			if snap.Prediction.DaysUntilDepletion != nil {
				fields = append(fields,
					zap.Int("days_until_depletion", *snap.Prediction.DaysUntilDepletion),
					zap.String("depletion_date", snap.Prediction.PredictedDepletionDate.String()),
				)
			}
			log.Info("consumption report", fields...)

			for _, week := range snap.Weekly {
				log.Info("weekly usage",
					zap.Int("iso_year", week.ISOYear),
					zap.Int("iso_week", week.ISOWeek),
					zap.Float64("usage_kwh", week.UsageKwh),
				)
			}
			for _, month := range snap.Monthly {
				log.Info("monthly usage",
					zap.Int("year", month.Year),
					zap.Int("month", month.Month),
					zap.Float64("usage_kwh", month.UsageKwh),
				)
			}

			pending, err := svc.PendingRollbacks(ctx, userID)
			if err != nil {
				return err
			}
			for _, batch := range pending {
				log.Info("rollback available",
					zap.String("batch_id", batch.ID.String()),
					zap.String("trigger_type", string(batch.TriggerType)),
					zap.Time("until", batch.CanRollbackUntil),
					zap.Int("affected_days", len(batch.AffectedEvents)),
				)
			}
			return nil
		},
	})
}
