package main

import (
	"fmt"
	"os"
	"sanctuary/backend/internal/api/handler"
	"sanctuary/backend/internal/audit"
	"sanctuary/backend/internal/complaint"
	"sanctuary/backend/internal/config"
	"sanctuary/backend/internal/counselor"
	"sanctuary/backend/internal/session"
	"sanctuary/backend/internal/storage"

	"github.com/spf13/cobra"
)

// app is the set of services a command needs.
type app struct {
	counselors *counselor.Registry
	complaints *complaint.Engine
	audit      *audit.Recorder
	tokens     *handler.TokenManager
	close      func()
}

// opener builds the services; tests swap it for an in-memory store.
type opener func() (*app, error)

func newApp(cfg *config.Config, store *storage.Service) (*app, error) {
	recorder := audit.NewRecorder(store, nil)
	sessions := session.NewBroker(store, nil)
	engine, err := complaint.NewEngine(complaint.EngineDependencies{
		Store:      store,
		Audit:      recorder,
		Moderation: cfg.Moderation,
	})
	if err != nil {
		return nil, err
	}
	return &app{
		counselors: counselor.NewRegistry(counselor.RegistryDependencies{
			Store:    store,
			Sessions: sessions,
			Audit:    recorder,
		}),
		complaints: engine,
		audit:      recorder,
		tokens:     handler.NewTokenManager(cfg.Auth),
		close:      func() {},
	}, nil
}

// openFromEnv connects to the configured database. Redis is not needed.
func openFromEnv() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	db, err := storage.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a, err := newApp(cfg, storage.NewStorageService(db, nil))
	if err != nil {
		return nil, err
	}
	a.close = func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	return a, nil
}

func newRootCmd(open opener) *cobra.Command {
	var adminID string

	cmd := &cobra.Command{
		Use:          "admin",
		Short:        "Sanctuary moderation console",
		Long:         "Approves and removes counselors, processes reports and appeals, and issues API tokens.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&adminID, "admin", envOr("ADMIN_ID", "cli"), "administrator id recorded in the audit log")

	cmd.AddCommand(newApproveCmd(open, &adminID))
	cmd.AddCommand(newRemoveCmd(open, &adminID))
	cmd.AddCommand(newReportsCmd(open))
	cmd.AddCommand(newProcessReportCmd(open, &adminID))
	cmd.AddCommand(newResolveAppealCmd(open, &adminID))
	cmd.AddCommand(newAuditCmd(open))
	cmd.AddCommand(newTokenCmd(open))
	return cmd
}

// withApp opens the services for the duration of fn.
func withApp(open opener, fn func(a *app) error) error {
	a, err := open()
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd(openFromEnv)))
}
