//cmd/seeder/main.go
package main

import (
    "context"
    "flag"
    "log"

    "go.uber.org/zap"

    "github.com/unclebandit/dripmail-backend/internal/config"
    "github.com/unclebandit/dripmail-backend/internal/db"
    "github.com/unclebandit/dripmail-backend/internal/pkg/logger"
)

func main() {
    schemaOnly := flag.Bool("schema-only", false, "apply migrations without seed data")
    flag.Parse()

    cfg, err := config.Load()
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }
    zl, err := logger.New(cfg.Log.Level, cfg.Log.Development)
    if err != nil {
        log.Fatalf("failed to build logger: %v", err)
    }
    defer zl.Sync()

    ctx := context.Background()
    conn, err := db.Open(ctx, cfg.Database.DSN())
    if err != nil {
        zl.Fatal("failed to connect", zap.Error(err))
    }
    defer conn.Close()

    files := []string{"migrations/001_init.sql"}
    if !*schemaOnly {
        files = append(files, "seed/contacts.sql")
    }
    if err := db.ExecFiles(ctx, conn, files, zl); err != nil {
        zl.Fatal("seeding failed", zap.Error(err))
    }

    zl.Info("Database seeding completed successfully!")
}
