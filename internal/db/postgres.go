package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/cheongam/chatbot-backend/internal/platform/envutil"
	"github.com/cheongam/chatbot-backend/internal/platform/logger"
	"github.com/cheongam/chatbot-backend/internal/types"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	host := envutil.Str("POSTGRES_HOST", "localhost")
	port := envutil.Str("POSTGRES_PORT", "5432")
	user := envutil.Str("POSTGRES_USER", "postgres")
	password := envutil.Str("POSTGRES_PASSWORD", "")
	name := envutil.Str("POSTGRES_NAME", "cheongam")
	sslMode := envutil.Str("POSTGRES_SSLMODE", "disable")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslMode)

	serviceLog.Info("Connecting to Postgres...", "host", host, "db", name)
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		serviceLog.Error("Failed to connect to Postgres", "error", err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &PostgresService{db: gormDB, log: serviceLog}, nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := s.db.AutoMigrate(
		&types.User{},
		&types.UserToken{},
		&types.Document{},
		&types.ChatSession{},
		&types.ChatMessage{},
		&types.UsageLog{},
	); err != nil {
		s.log.Error("Auto migration failed for postgres tables", "error", err)
		return err
	}

	s.log.Info("Configuring foreign key relationships for postgres tables...")
	constraints := []struct {
		name string
		ddl  string
	}{
		{
			name: "fk_user_tokens_user_id",
			ddl: `ALTER TABLE "user_tokens"
				ADD CONSTRAINT "fk_user_tokens_user_id"
				FOREIGN KEY ("user_id") REFERENCES "users"("id")
				ON DELETE CASCADE`,
		},
		{
			name: "fk_chat_sessions_user_id",
			ddl: `ALTER TABLE "chat_sessions"
				ADD CONSTRAINT "fk_chat_sessions_user_id"
				FOREIGN KEY ("user_id") REFERENCES "users"("id")
				ON DELETE CASCADE`,
		},
		{
			name: "fk_chat_messages_session_id",
			ddl: `ALTER TABLE "chat_messages"
				ADD CONSTRAINT "fk_chat_messages_session_id"
				FOREIGN KEY ("session_id") REFERENCES "chat_sessions"("id")
				ON DELETE CASCADE`,
		},
	}
	for _, c := range constraints {
		if err := s.db.Exec(c.ddl).Error; err != nil {
			// Re-running migrations against an existing schema is fine.
			s.log.Warn("Skipping FK constraint", "constraint", c.name, "error", err)
		}
	}
	return nil
}

func (s *PostgresService) DB() *gorm.DB {
	return s.db
}
