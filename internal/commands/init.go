package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/utils"
)

// InitCommand returns the CLI command for initializing Beacon
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize or update the Beacon environment",
		Description: "Sets up the Beacon environment including the configuration directory, " +
			"the media spool directory and the database with necessary tables. Use this " +
			"command for first-time setup or to update your database schema after upgrading.",
		Action: func(c *cli.Context) error {
			utils.PrintHeading("Initializing Beacon")

			homeDir, err := os.UserHomeDir()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to get user home directory: %s", err))
				return fmt.Errorf("failed to get user home directory: %w", err)
			}

			configDir := filepath.Join(homeDir, ".beacon")
			utils.PrintInfo("Configuration directory: " + configDir)

			if err := os.MkdirAll(configDir, 0755); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to create config directory: %s", err))
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			cfg, err := config.LoadFromEnv(configDir, "")
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to load configuration: %s", err))
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			if err := os.MkdirAll(cfg.Media.Dir, 0755); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to create media directory: %s", err))
				return fmt.Errorf("failed to create media directory: %w", err)
			}

			utils.PrintInfo("Initializing database...")
			if err := database.InitDB(cfg); err != nil {
				utils.PrintError(fmt.Sprintf("Failed to initialize database: %s", err))
				return fmt.Errorf("failed to initialize database: %w", err)
			}

			utils.PrintInfo("Applying database migrations...")
			migrationsApplied, err := database.RunMigrations()
			if err != nil {
				utils.PrintError(fmt.Sprintf("Failed to apply migrations: %s", err))
				return fmt.Errorf("failed to apply migrations: %w", err)
			}

			utils.PrintSuccess("Beacon initialized successfully!")

			if migrationsApplied > 0 {
				utils.PrintSuccess(fmt.Sprintf("Applied %d new migration(s)", migrationsApplied))
			} else {
				utils.PrintInfo("Database schema is already up-to-date")
			}

			utils.PrintInfo("Database location: " + cfg.Database.Path)
			utils.PrintInfo("Media spool: " + cfg.Media.Dir)
			utils.PrintInfo("Log file location: " + cfg.Logging.Output)
			fmt.Println("")
			utils.PrintInfo("You can now use beacon to report incidents.")

			return nil
		},
	}
}
