package repository

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrate brings the schema up to the latest embedded migration.
func Migrate(db *sql.DB, logger *zap.Logger) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(&gooseLogger{s: logger.Named("db migration").Sugar()})
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through zap.
type gooseLogger struct {
	s *zap.SugaredLogger
}

func (l *gooseLogger) Fatal(v ...interface{})                 { l.s.Fatal(v...) }
func (l *gooseLogger) Fatalf(format string, v ...interface{}) { l.s.Fatalf(format, v...) }
func (l *gooseLogger) Print(v ...interface{})                 { l.s.Info(v...) }
func (l *gooseLogger) Println(v ...interface{})               { l.s.Info(v...) }
func (l *gooseLogger) Printf(format string, v ...interface{}) { l.s.Infof(format, v...) }
