package db

import (
	"errors"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"leadledger/internal/config"
)

// Connect opens a GORM database connection using APP_DATABASE_URL (PostgreSQL URL).
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil, errors.New("APP_DATABASE_URL must be a postgres:// or postgresql:// URL")
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{PrepareStmt: true})
	if err != nil {
		return nil, err
	}

	if err := Setup(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Setup registers the tenant guard and migrates the core tables. Split out of
// Connect so tests can run it against an in-memory database.
func Setup(db *gorm.DB) error {
	if err := db.Use(NewTenantGuardPlugin()); err != nil {
		return err
	}
	return db.AutoMigrate(
		&Tenant{},
		&APIKey{},
		&Lead{},
		&OutcomeEvent{},
		&LeadState{},
		&WeeklySourceStat{},
		&WeeklyGeoStat{},
		&Alert{},
		&JobRun{},
	)
}

// EnsureBootstrapTenant makes sure there is at least one active tenant plus an
// API key matching the bootstrap token from config, so a fresh deployment can
// record outcomes without manual onboarding. Existing rows are left as-is.
func EnsureBootstrapTenant(db *gorm.DB, cfg *config.Config) error {
	if cfg.BootstrapTenant == "" || cfg.BootstrapAPIKey == "" {
		return nil
	}

	keyID, secret, err := SplitToken(cfg.BootstrapAPIKey)
	if err != nil {
		return err
	}

	var tenant Tenant
	res := db.Where("name = ?", cfg.BootstrapTenant).Limit(1).Find(&tenant)
	if res.Error != nil {
		return res.Error
	}
	if tenant.ID == "" {
		tenant = Tenant{ID: NewID(), Name: cfg.BootstrapTenant, Active: true}
		if err := db.Create(&tenant).Error; err != nil {
			return err
		}
	}

	var existing APIKey
	if err := db.Where("key_id = ?", keyID).Limit(1).Find(&existing).Error; err != nil {
		return err
	}
	if existing.ID != 0 {
		// Key exists - ensure it belongs to the bootstrap tenant and is live.
		if existing.TenantID != tenant.ID || !existing.Active {
			existing.TenantID = tenant.ID
			existing.Active = true
			return db.Save(&existing).Error
		}
		return nil
	}

	hash, err := HashSecret(secret)
	if err != nil {
		return err
	}
	key := &APIKey{
		TenantID:   tenant.ID,
		KeyID:      keyID,
		SecretHash: hash,
		Name:       "bootstrap",
		Active:     true,
	}
	return db.Create(key).Error
}
