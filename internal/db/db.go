// internal/db/db.go
package db

import (
    "context"
    "database/sql"
    "fmt"
    "os"
    "time"

    _ "github.com/lib/pq"
    "go.uber.org/zap"
)

var DB *sql.DB

// Init opens the shared pool used by the server and worker binaries.
func Init(dsn string, log *zap.Logger) error {
    conn, err := Open(context.Background(), dsn)
    if err != nil {
        return err
    }
    DB = conn
    log.Info("✅ Connected to database")
    return nil
}

func Open(ctx context.Context, dsn string) (*sql.DB, error) {
    conn, err := sql.Open("postgres", dsn)
    if err != nil {
        return nil, fmt.Errorf("failed to open DB: %w", err)
    }
    conn.SetMaxOpenConns(20)
    conn.SetMaxIdleConns(5)
    conn.SetConnMaxLifetime(30 * time.Minute)

    pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
    defer cancel()
    if err := conn.PingContext(pingCtx); err != nil {
        conn.Close()
        return nil, fmt.Errorf("failed to ping DB: %w", err)
    }
    return conn, nil
}

// ExecFiles runs each SQL file in order, stopping at the first failure.
func ExecFiles(ctx context.Context, conn *sql.DB, files []string, log *zap.Logger) error {
    for _, file := range files {
        content, err := os.ReadFile(file)
        if err != nil {
            return fmt.Errorf("failed to read %s: %w", file, err)
        }
        if _, err := conn.ExecContext(ctx, string(content)); err != nil {
            return fmt.Errorf("failed to execute %s: %w", file, err)
        }
        log.Info("applied sql file", zap.String("file", file))
    }
    return nil
}
