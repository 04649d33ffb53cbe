package commands

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/beaconhq/beacon/internal/app"
	"github.com/beaconhq/beacon/internal/utils"
)

// StatusCommand returns the CLI command for showing queue and connectivity status
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show queue and connectivity status",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dead",
				Usage: "Include items that stopped retrying",
			},
		},
		Action: statusAction,
	}
}

// statusAction shows pending work, connectivity and optionally dead items
func statusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	utils.PrintHeading("Beacon Status")

	state, err := application.Monitor.Fetch(ctx)
	if err != nil {
		utils.PrintKeyValue("Connectivity", "unknown ("+err.Error()+")")
	} else {
		label := "offline"
		if state.SyncEligible() {
			label = "online"
		} else if state.Connected {
			label = "connected, internet " + state.InternetReachable.String()
		}
		utils.PrintKeyValue("Connectivity", label)
	}

	enabled := "disabled"
	if application.Config.Server.Enabled {
		enabled = "enabled"
	}
	utils.PrintKeyValue("Sync", enabled)
	utils.PrintKeyValue("Server", application.Config.Server.URL)
	utils.PrintKeyValue("Device", application.Config.Server.DeviceName)

	maxAttempts := application.Config.Sync.MaxAttempts

	incidents, err := application.Incidents.Pending(ctx)
	if err != nil {
		return fmt.Errorf("listing queued incidents: %w", err)
	}
	stuckIncidents := 0
	for _, item := range incidents {
		if item.Attempts >= maxAttempts {
			stuckIncidents++
		}
	}

	mediaItems, err := application.Media.Pending(ctx)
	if err != nil {
		return fmt.Errorf("listing queued media: %w", err)
	}
	stuckMedia := 0
	for _, item := range mediaItems {
		if item.Attempts >= maxAttempts {
			stuckMedia++
		}
	}

	drafts, err := application.Drafts.List(ctx)
	if err != nil {
		return fmt.Errorf("listing drafts: %w", err)
	}
	offlineDrafts, stuckDrafts := 0, 0
	for _, d := range drafts {
		if d.IsOffline {
			offlineDrafts++
			if d.Attempts >= maxAttempts {
				stuckDrafts++
			}
		}
	}

	utils.PrintDivider()
	utils.PrintKeyValue("Queued incidents", countLabel(len(incidents), stuckIncidents))
	utils.PrintKeyValue("Queued media", countLabel(len(mediaItems), stuckMedia))
	utils.PrintKeyValue("Drafts", fmt.Sprintf("%d (%d pending sync)", len(drafts), offlineDrafts))
	if stuckDrafts > 0 {
		utils.PrintWarning(fmt.Sprintf("%d draft(s) need attention; edit and resubmit them", stuckDrafts))
	}

	if !c.Bool("dead") {
		return nil
	}

	dead, err := application.SyncRepo.ListDeadItems(ctx, 50)
	if err != nil {
		return fmt.Errorf("listing dead items: %w", err)
	}

	if len(dead) == 0 {
		utils.PrintInfo("No items have stopped retrying")
		return nil
	}

	headers := []string{"Entity", "Reason", "Last Error", "When"}
	rows := [][]string{}
	for _, item := range dead {
		rows = append(rows, []string{
			string(item.EntityType),
			item.Reason,
			truncate(item.LastError, 48),
			utils.FormatAge(item.CreatedAt),
		})
	}

	utils.PrintTable(headers, rows, utils.TableOptions{Title: "Dead Items"})
	return nil
}

// countLabel renders a queue count, flagging items out of attempt budget
func countLabel(total, stuck int) string {
	if stuck > 0 {
		return fmt.Sprintf("%d (%d need attention)", total, stuck)
	}
	return fmt.Sprintf("%d", total)
}

// truncate shortens long strings for table cells
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// formatTime renders a timestamp for table cells
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("Jan 02 15:04:05")
}
