package database

import (
	"fmt"
	"time"

	"carechat/configs"
	"carechat/internal/models"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Open connects to postgres and migrates the chat schema. Timestamps are
// stored in UTC at microsecond precision, the resolution postgres keeps, so a
// read cursor written from a message's created_at compares equal to it.
func Open(config *configs.Config, logger zerolog.Logger) (*gorm.DB, error) {
	psql := getPSQL(config)
	dsn := fmt.Sprintf(
		"host=%v user=%v password=%v dbname=%v port=%v sslmode=%v TimeZone=%v",
		psql.Host, psql.User, psql.Password, psql.Name, psql.Port, psql.SSL, psql.Timezone,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(config.Viper.GetInt("database.max_open_conns"))
	sqlDB.SetMaxIdleConns(config.Viper.GetInt("database.max_idle_conns"))
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := migrate(db); err != nil {
		return nil, err
	}
	logger.Info().Str("host", psql.Host).Str("database", psql.Name).Msg("database migrated successfully")
	return db, nil
}

func getPSQL(config *configs.Config) *models.PSQL {
	return &models.PSQL{
		Host:     config.Viper.GetString("database.host"),
		Port:     config.Viper.GetInt("database.port"),
		User:     config.Viper.GetString("database.user"),
		Password: config.Viper.GetString("database.password"),
		Name:     config.Viper.GetString("database.name"),
		SSL:      config.Viper.GetString("database.ssl"),
		Timezone: config.Viper.GetString("database.timezone"),
	}
}

func migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.FamilyMember{},
		&models.Conversation{},
		&models.Participant{},
		&models.Message{},
	)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	return nil
}
