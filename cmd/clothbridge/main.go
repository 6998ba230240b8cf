// Package main runs the clothbridge API server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/clothbridge/clothbridge/internal/app/runtime"
	"github.com/clothbridge/clothbridge/internal/config"
	"github.com/clothbridge/clothbridge/internal/platform/migrations"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file (overrides CONFIG_FILE)")
	migrateOnly := flag.String("migrate", "", "Run database migrations (up|down) and exit")
	flag.Parse()

	if *configFile != "" {
		_ = os.Setenv("CONFIG_FILE", *configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *migrateOnly != "" {
		if err := migrate(cfg, *migrateOnly); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Printf("Migrations %s complete", *migrateOnly)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := runtime.NewApplication(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		log.Printf("Run error: %v", err)
	}

	log.Println("Shutting down...")
	if err := application.Shutdown(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Stopped")
}

func migrate(cfg *config.Config, direction string) error {
	db, err := runtime.OpenDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	switch direction {
	case "up":
		return migrations.Up(db)
	case "down":
		return migrations.Down(db)
	default:
		log.Fatalf("unknown migrate direction %q (want up or down)", direction)
		return nil
	}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetPrefix("[clothbridge] ")
}
