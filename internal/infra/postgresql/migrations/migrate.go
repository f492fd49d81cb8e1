package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/sendwave/campaign-engine/internal/domain"
	"github.com/sendwave/campaign-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_campaigns",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.CampaignModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns (status)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.CampaignModel{})
			},
		},
		{
			ID: "000002_create_senders",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.SenderModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.SenderModel{})
			},
		},
		{
			ID: "000003_create_dispatch_jobs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DispatchJobModel{}); err != nil {
					return err
				}
				indexes := []string{
					// Exactly-once enqueue: one job per (campaign, recipient).
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_campaign_recipient ON dispatch_jobs (campaign_id, recipient_id)`,
					`CREATE INDEX IF NOT EXISTS idx_jobs_dispatch_order ON dispatch_jobs (campaign_id, sender_id, status, sequence)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_campaign_sequence ON dispatch_jobs (campaign_id, sequence)`,
					`CREATE INDEX IF NOT EXISTS idx_jobs_provider_message_id ON dispatch_jobs (provider_message_id) WHERE provider_message_id IS NOT NULL`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DispatchJobModel{})
			},
		},
		{
			ID: "000004_create_failover_events",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.FailoverEvent{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_failover_events_campaign_occurred ON failover_events (campaign_id, occurred_at)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.FailoverEvent{})
			},
		},
		{
			ID: "000005_create_pool_configs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&domain.PoolConfig{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.PoolConfig{})
			},
		},
		{
			ID: "000006_create_audience_members",
			Migrate: func(tx *gorm.DB) error {
				// Read-only mirror of the audience store; the engine never
				// writes rows here.
				return tx.Exec(`CREATE TABLE IF NOT EXISTS audience_members (
					id uuid PRIMARY KEY,
					audience_id uuid NOT NULL,
					phone_number varchar(32) NOT NULL DEFAULT '',
					opted_out boolean NOT NULL DEFAULT false
				)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec(`DROP TABLE IF EXISTS audience_members`).Error
			},
		},
	})

	return m.Migrate()
}
