package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/beaconhq/beacon/internal/app"
	"github.com/beaconhq/beacon/internal/commands"
)

// Version information - populated at build time
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cliApp := &cli.App{
		Name:  "beacon",
		Usage: "Offline-first incident reporting",
		Description: "Beacon reports facility incidents to a central server.\n\n" +
			"Reports and their media are durably queued on the device and synced " +
			"automatically as soon as connectivity allows, so reporting works the " +
			"same with or without a network.",
		Version: Version,
		Compiled: func() time.Time {
			t, err := time.Parse(time.RFC3339, BuildTime)
			if err != nil {
				return time.Now()
			}
			return t
		}(),
		Before: func(c *cli.Context) error {
			application, err := app.New()
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			// Store the app instance in the context for later use
			c.App.Metadata = map[string]interface{}{
				"app": application,
			}

			return nil
		},
		After: func(c *cli.Context) error {
			if app, ok := c.App.Metadata["app"].(*app.App); ok {
				return app.Shutdown()
			}
			return nil
		},
		Commands: []*cli.Command{
			commands.InitCommand(),
			commands.ReportCommand(),
			commands.DraftCommand(),
			commands.MediaCommand(),
			commands.SyncCommand(),
			commands.StatusCommand(),
			commands.MigrateCommand(),
		},
		Action: func(c *cli.Context) error {
			// Default action is to show status
			return commands.StatusCommand().Action(c)
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
