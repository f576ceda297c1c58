package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/questionbank-backend/internal/platform/logger"
	"github.com/yungbote/questionbank-backend/internal/types"
	"github.com/yungbote/questionbank-backend/internal/utils"
)

type PostgresService interface {
	DB() *gorm.DB
	Close() error
}

type postgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewPostgresService connects, enables the extensions the pipeline relies on
// (uuid generation and trigram similarity), migrates the schema and builds
// the trigram index used by duplicate detection.
func NewPostgresService(baseLog *logger.Logger) (PostgresService, error) {
	log := baseLog.With("service", "PostgresService")

	host := utils.GetEnv("DB_HOST", "localhost", log)
	port := utils.GetEnvAsInt("DB_PORT", 5432, log)
	user := utils.GetEnv("DB_USER", "postgres", log)
	password := utils.GetEnv("DB_PASSWORD", "postgres", log)
	dbname := utils.GetEnv("DB_NAME", "questionbank", log)
	sslmode := utils.GetEnv("DB_SSLMODE", "disable", log)

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	svc := &postgresService{db: gormDB, log: log}
	if err := svc.migrate(); err != nil {
		return nil, err
	}
	log.Info("Connected to postgres", "host", host, "db", dbname)
	return svc, nil
}

func (s *postgresService) DB() *gorm.DB { return s.db }

func (s *postgresService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *postgresService) migrate() error {
	for _, ext := range []string{"uuid-ossp", "pg_trgm"} {
		if err := s.db.Exec(fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS %q`, ext)).Error; err != nil {
			return fmt.Errorf("failed to create extension %s: %w", ext, err)
		}
	}
	if err := s.db.AutoMigrate(
		&types.Question{},
		&types.UploadBatch{},
		&types.StagedRecord{},
		&types.StagingDuplicate{},
	); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	// AutoMigrate cannot express expression indexes; the gin trigram index
	// backs the similarity() lookup in duplicate detection.
	if err := s.db.Exec(
		`CREATE INDEX IF NOT EXISTS idx_question_question_trgm ON question USING gin (question gin_trgm_ops)`,
	).Error; err != nil {
		return fmt.Errorf("failed to create trigram index: %w", err)
	}
	return nil
}
