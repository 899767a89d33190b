// pgsetup provisions the Postgres schema for the remote store backend: the
// kv table plus the trigger that powers LISTEN/NOTIFY watches.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/config"
	"github.com/Geekomaniac1009/ARAgilityTrainer/internal/remote/pgstore"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: no .env file loaded: %v\n", err)
	}

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	pool, err := pgxpool.New(context.Background(), cfg.Store.Postgres.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ar_kv (
			path TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ar_kv_updated_at ON ar_kv (updated_at)`,
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION ar_kv_notify() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('%s', NEW.path);
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`, pgstore.NotifyChannel),
		`DROP TRIGGER IF EXISTS ar_kv_notify_trigger ON ar_kv`,
		`CREATE TRIGGER ar_kv_notify_trigger
			AFTER INSERT OR UPDATE ON ar_kv
			FOR EACH ROW EXECUTE FUNCTION ar_kv_notify()`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(context.Background(), stmt); err != nil {
			fmt.Fprintf(os.Stderr, "exec failed: %v\nstatement:\n%s\n", err, stmt)
			os.Exit(1)
		}
	}

	fmt.Printf("schema ready on %s/%s\n", cfg.Store.Postgres.Host, cfg.Store.Postgres.Database)
}
