package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/beaconhq/beacon/internal/app"
	"github.com/beaconhq/beacon/internal/incident"
	"github.com/beaconhq/beacon/internal/loggy"
	"github.com/beaconhq/beacon/internal/media"
	"github.com/beaconhq/beacon/internal/syncer"
	"github.com/beaconhq/beacon/internal/utils"
)

// ReportCommand returns the CLI command for reporting incidents
func ReportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Report an incident",
		Description: "Queues an incident report for submission. The report is durably stored " +
			"and synced to the server as soon as connectivity allows; attached media is " +
			"uploaded after the incident itself has been accepted.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "title",
				Aliases:  []string{"t"},
				Usage:    "Short title of the incident",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "description",
				Aliases:  []string{"d"},
				Usage:    "What happened",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "category",
				Usage: "Incident category (e.g. 'fire', 'water', 'electrical')",
			},
			&cli.StringFlag{
				Name:  "severity",
				Usage: "Incident severity (e.g. 'low', 'medium', 'high')",
			},
			&cli.StringFlag{
				Name:     "building",
				Aliases:  []string{"b"},
				Usage:    "Building identifier",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "floor",
				Usage: "Floor identifier",
			},
			&cli.StringFlag{
				Name:  "room",
				Usage: "Room identifier",
			},
			&cli.Float64Flag{
				Name:  "lat",
				Usage: "Latitude of the incident location",
			},
			&cli.Float64Flag{
				Name:  "lng",
				Usage: "Longitude of the incident location",
			},
			&cli.StringSliceFlag{
				Name:    "media",
				Aliases: []string{"m"},
				Usage:   "Photo or video file to attach (repeatable)",
			},
		},
		Subcommands: []*cli.Command{
			{
				Name:        "list",
				Usage:       "List queued incident reports",
				Description: "Shows incident reports waiting for submission to the server",
				Action:      reportListAction,
			},
		},
		Action: reportAction,
	}
}

// reportAction queues an incident report, then opportunistically syncs
func reportAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	payload := incident.Payload{
		Title:       c.String("title"),
		Description: c.String("description"),
		Category:    c.String("category"),
		Severity:    c.String("severity"),
		Location: incident.Location{
			BuildingID: c.String("building"),
			FloorID:    c.String("floor"),
			Room:       c.String("room"),
			Latitude:   c.Float64("lat"),
			Longitude:  c.Float64("lng"),
		},
		ReporterID: application.Config.Server.ReporterID,
		DeviceName: application.Config.Server.DeviceName,
	}

	mediaPaths := c.StringSlice("media")
	for _, path := range mediaPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("media file %q: %w", path, err)
		}
	}

	queued, err := application.Incidents.Enqueue(ctx, payload)
	if err != nil {
		if errors.Is(err, incident.ErrValidation) {
			utils.PrintError(err.Error())
			return err
		}
		return fmt.Errorf("queueing incident: %w", err)
	}

	utils.PrintSuccess("Incident queued: " + queued.ID)

	for _, path := range mediaPaths {
		item, err := application.Media.Enqueue(ctx, path, media.KindFromPath(path), queued.ID)
		if err != nil {
			utils.PrintWarning(fmt.Sprintf("Failed to queue media %q: %s", path, err))
			continue
		}
		utils.PrintInfo("Media queued: " + item.ID)
	}

	// Best effort: if we are online right now, drain immediately
	result, err := application.Syncer.CheckAndSync(ctx, syncer.TriggerManual)
	if err != nil {
		loggy.Warn("Opportunistic sync failed", "error", err)
	}
	if result.Ran && result.Incidents.Submitted > 0 {
		utils.PrintSuccess(fmt.Sprintf("Synced: %d incident(s) submitted, %d media uploaded",
			result.Incidents.Submitted, result.Media.Uploaded))
	} else {
		utils.PrintInfo("Report stored; it will sync when connectivity allows")
	}

	return nil
}

// reportListAction lists queued incident reports
func reportListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	pending, err := application.Incidents.Pending(c.Context)
	if err != nil {
		return fmt.Errorf("listing queued incidents: %w", err)
	}

	if len(pending) == 0 {
		utils.PrintInfo("No incident reports waiting for submission")
		return nil
	}

	headers := []string{"ID", "Title", "Building", "Attempts", "Last Error", "Queued"}
	rows := [][]string{}
	for _, item := range pending {
		rows = append(rows, []string{
			item.ID,
			item.Payload.Title,
			item.Payload.Location.BuildingID,
			fmt.Sprintf("%d", item.Attempts),
			truncate(item.LastError, 48),
			utils.FormatAge(item.EnqueuedAt),
		})
	}

	utils.PrintTable(headers, rows, utils.TableOptions{Title: "Queued Incidents"})
	return nil
}
