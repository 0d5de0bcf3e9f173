package database

import (
	"fmt"
	"time"

	"github.com/waveline/waveline/internal/config"
	"github.com/waveline/waveline/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewPostgres creates a new PostgreSQL connection
func NewPostgres(cfg *config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	return db, nil
}

// MigrationModels returns all models to migrate, in dependency order
func MigrationModels() []interface{} {
	return []interface{}{
		&models.Workspace{},
		&models.User{},
		&models.Contact{},
		&models.Template{},
		&models.Campaign{},
		&models.CampaignBatch{},
		&models.CampaignMessage{},
		&models.Message{},
		&models.Conversation{},
		&models.ConversationLedger{},
		&models.AutomationRule{},
		&models.WebhookLog{},
	}
}

// AutoMigrate runs auto migration for all models
func AutoMigrate(db *gorm.DB) error {
	for _, m := range MigrationModels() {
		if err := db.AutoMigrate(m); err != nil {
			return err
		}
	}
	return nil
}

// getIndexes returns index creation SQL not handled by GORM tags
func getIndexes() []string {
	return []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_ws_phone ON contacts(workspace_id, phone_number)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_templates_ws_name_lang ON templates(workspace_id, name, language)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_ws_status ON campaigns(workspace_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_scheduled ON campaigns(status, scheduled_at) WHERE status = 'SCHEDULED'`,
		`CREATE INDEX IF NOT EXISTS idx_campaign_messages_campaign_status ON campaign_messages(campaign_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_ws_created ON messages(workspace_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_campaign ON messages(campaign_id) WHERE campaign_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_automation_rules_ws_trigger ON automation_rules(workspace_id, trigger, is_enabled)`,
		`CREATE INDEX IF NOT EXISTS idx_webhook_logs_created ON webhook_logs(created_at DESC)`,
	}
}

// CreateIndexes creates additional indexes not handled by GORM tags
func CreateIndexes(db *gorm.DB) error {
	for _, idx := range getIndexes() {
		if err := db.Exec(idx).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
