package commands

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/beaconhq/beacon/internal/app"
	"github.com/beaconhq/beacon/internal/media"
	"github.com/beaconhq/beacon/internal/utils"
)

// MediaCommand returns the CLI command for managing queued media uploads
func MediaCommand() *cli.Command {
	return &cli.Command{
		Name:  "media",
		Usage: "Manage queued media uploads",
		Subcommands: []*cli.Command{
			{
				Name:      "attach",
				Usage:     "Queue a media file for upload against an incident",
				ArgsUsage: "<incident-id> <file>",
				Description: "The file is compressed into app-private storage immediately; the " +
					"upload itself happens on the next sync. The incident id may be a local " +
					"queue id, in which case the upload waits until that incident has synced.",
				Action: mediaAttachAction,
			},
			{
				Name:   "list",
				Usage:  "List queued media uploads",
				Action: mediaListAction,
			},
		},
	}
}

// mediaAttachAction queues a media file for upload
func mediaAttachAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	incidentID := c.Args().Get(0)
	path := c.Args().Get(1)
	if incidentID == "" || path == "" {
		return fmt.Errorf("usage: beacon media attach <incident-id> <file>")
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("media file %q: %w", path, err)
	}

	item, err := application.Media.Enqueue(c.Context, path, media.KindFromPath(path), incidentID)
	if err != nil {
		return fmt.Errorf("queueing media: %w", err)
	}

	utils.PrintSuccess("Media queued: " + item.ID)
	return nil
}

// mediaListAction lists queued media uploads
func mediaListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	pending, err := application.Media.Pending(c.Context)
	if err != nil {
		return fmt.Errorf("listing queued media: %w", err)
	}

	if len(pending) == 0 {
		utils.PrintInfo("No media waiting for upload")
		return nil
	}

	headers := []string{"ID", "Incident", "Kind", "Attempts", "Last Error", "Queued"}
	rows := [][]string{}
	for _, item := range pending {
		rows = append(rows, []string{
			item.ID,
			item.IncidentID,
			string(item.Kind),
			fmt.Sprintf("%d", item.Attempts),
			truncate(item.LastError, 48),
			utils.FormatAge(item.EnqueuedAt),
		})
	}

	utils.PrintTable(headers, rows, utils.TableOptions{Title: "Queued Media"})
	return nil
}
