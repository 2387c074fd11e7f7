package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/djcrm/crm/internal/config"
	"github.com/djcrm/crm/internal/models"
	"github.com/djcrm/crm/pkg/logger"
	"github.com/djcrm/crm/pkg/utils"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Connect opens the configured database, migrates the schema and makes
// sure a super admin exists.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	db, err := Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	if _, err := SeedSuperAdmin(db, cfg.Seed); err != nil {
		return nil, err
	}
	return db, nil
}

func Open(cfg config.DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host,
			cfg.Port,
			cfg.User,
			cfg.Password,
			cfg.Name,
			cfg.SSLMode,
		)
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{NowFunc: func() time.Time {
		return time.Now().UTC()
	}})
	if err != nil {
		return nil, err
	}

	logger.Info("database_connected", map[string]interface{}{
		"driver": cfg.Driver,
	})
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}

// SeedSuperAdmin creates the first super admin and its home organisation
// when no super admin exists yet. It returns the created user, or nil.
func SeedSuperAdmin(db *gorm.DB, cfg config.SeedConfig) (*models.User, error) {
	var count int64
	if err := db.Model(&models.User{}).Where("tier = ?", models.TierSuperAdmin).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, nil
	}

	return CreateSuperAdmin(db, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword)
}

func CreateSuperAdmin(db *gorm.DB, username, email, password string) (*models.User, error) {
	if username == "" || email == "" || password == "" {
		return nil, errors.New("username, email and password are required")
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	admin := models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    "System",
		LastName:     "Admin",
		Tier:         models.TierSuperAdmin,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		org := models.Organisation{Name: username}
		if err := tx.Create(&org).Error; err != nil {
			return err
		}
		admin.OrganisationID = &org.ID
		return tx.Create(&admin).Error
	})
	if err != nil {
		return nil, err
	}

	logger.Info("superadmin_seeded", map[string]interface{}{
		"user_id":  admin.ID,
		"username": admin.Username,
	})
	return &admin, nil
}
