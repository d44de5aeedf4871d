package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"auditdesk.org/internal/migrate"
	"auditdesk.org/internal/obs"
	"auditdesk.org/internal/store/pg"
)

func main() {
	var (
		dsn   = flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
		dir   = flag.String("dir", "", "Directory with *.up.sql/*.down.sql files (default: embedded migrations)")
		table = flag.String("table", "", "Bookkeeping table (default: schema_migrations)")
	)
	flag.Parse()
	log := obs.NewLogger(os.Getenv("ENV"), os.Stderr)

	if *dsn == "" {
		log.Error("missing DSN: provide via -dsn or DATABASE_URL")
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: migrate [-dsn DSN] [-dir DIR] up|down|status")
		os.Exit(2)
	}

	var files fs.FS = pg.Migrations()
	if *dir != "" {
		files = os.DirFS(*dir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		log.Error("open_db_failed", "error", err.Error())
		os.Exit(1)
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), files, migrate.WithMigrationsTable(*table))

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			log.Info("migration_applied", "name", name)
		}
		if err == nil && len(applied) == 0 {
			log.Info("schema_up_to_date")
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			log.Info("nothing_to_roll_back")
			err = nil
		} else if err == nil {
			log.Info("migration_rolled_back", "name", name)
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		log.Error("unknown command", "command", cmd)
		os.Exit(2)
	}
	if err != nil {
		log.Error("migrate_failed", "command", cmd, "error", err.Error())
		os.Exit(1)
	}
}
