package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/desertthunder/jukebox/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file from the template when missing, then migrates the database.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	if r.configPath != "" {
		if _, err := os.Stat(r.configPath); os.IsNotExist(err) {
			r.logger.Info("config file not found, creating from template", "path", r.configPath)
			if err := shared.CreateConfigFile(r.configPath); err != nil {
				return err
			}
			r.writePlain("%s\n", r.palette.Check("config written to %s", r.configPath))
			if !r.configured {
				if r.config, err = shared.LoadConfig(r.configPath); err != nil {
					return err
				}
			}
		}
	}

	db, err := r.database()
	if err != nil {
		return err
	}

	statuses, err := shared.Migrations(db)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	for _, s := range statuses {
		mark := r.palette.Check
		if !s.Applied {
			mark = r.palette.Cross
		}
		r.writePlain("%s\n", mark("%04d %s", s.Version, s.Name))
	}

	r.logger.Info("setup complete", "database", r.config.Database.Path)
	return nil
}

// SetupRollback reverts the most recent migration.
func (r *Runner) SetupRollback(ctx context.Context, cmd *cli.Command) error {
	db, err := r.database()
	if err != nil {
		return err
	}
	if err := shared.RollbackMigration(db); err != nil {
		return err
	}
	r.writePlain("%s\n", r.palette.Check("rolled back the latest migration"))
	return nil
}

// database opens and migrates the database without building the catalog.
func (r *Runner) database() (*sql.DB, error) {
	if r.db != nil {
		if err := shared.RunMigrations(r.db); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return r.db, nil
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, err
	}
	r.db, r.ownsDB = db, true
	return db, nil
}

type providerRow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Enabled  bool   `json:"enabled"`
	Features string `json:"features"`
	Error    string `json:"error,omitempty"`
	LastSync string `json:"last_sync,omitempty"`
}

// Providers lists the registered providers with their features and last sync.
func (r *Runner) Providers(ctx context.Context, cmd *cli.Command) error {
	agg, err := r.open(ctx)
	if err != nil {
		return err
	}
	statuses := agg.Providers()

	if cmd.Bool("json") {
		rows := make([]providerRow, 0, len(statuses))
		for _, s := range statuses {
			row := providerRow{ID: s.ID, Name: s.Name, Type: string(s.Type), Enabled: s.Enabled, Features: s.Features.String()}
			if s.Err != nil {
				row.Error = s.Err.Error()
			}
			if run, err := r.runs.Latest(s.ID); err == nil && run != nil {
				row.LastSync = string(run.Status)
			}
			rows = append(rows, row)
		}
		return r.writeJSON(rows, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("%d providers", len(statuses)))
	r.writePlain("%s", r.palette.Providers(statuses))
	for _, s := range statuses {
		run, err := r.runs.Latest(s.ID)
		if err != nil || run == nil {
			continue
		}
		r.writePlain("%s last sync %s, %d items (%s)\n", s.ID, run.Status, run.ItemsTotal, run.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
