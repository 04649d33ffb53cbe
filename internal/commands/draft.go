package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/beaconhq/beacon/internal/app"
	"github.com/beaconhq/beacon/internal/incident"
	"github.com/beaconhq/beacon/internal/media"
	"github.com/beaconhq/beacon/internal/utils"
)

// DraftCommand returns the CLI command for managing incident drafts
func DraftCommand() *cli.Command {
	return &cli.Command{
		Name:  "draft",
		Usage: "Manage incident drafts",
		Description: "Drafts are incident reports saved locally without being submitted. " +
			"Submitting a draft while offline flags it for automatic submission on the " +
			"next sync instead of failing.",
		Subcommands: []*cli.Command{
			{
				Name:  "save",
				Usage: "Save a new draft",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "title",
						Aliases: []string{"t"},
						Usage:   "Short title of the incident",
					},
					&cli.StringFlag{
						Name:    "description",
						Aliases: []string{"d"},
						Usage:   "What happened",
					},
					&cli.StringFlag{
						Name:  "category",
						Usage: "Incident category",
					},
					&cli.StringFlag{
						Name:  "severity",
						Usage: "Incident severity",
					},
					&cli.StringFlag{
						Name:    "building",
						Aliases: []string{"b"},
						Usage:   "Building identifier",
					},
					&cli.StringFlag{
						Name:  "floor",
						Usage: "Floor identifier",
					},
					&cli.StringFlag{
						Name:  "room",
						Usage: "Room identifier",
					},
					&cli.StringSliceFlag{
						Name:    "media",
						Aliases: []string{"m"},
						Usage:   "Photo or video file to attach (repeatable)",
					},
				},
				Action: draftSaveAction,
			},
			{
				Name:   "list",
				Usage:  "List saved drafts",
				Action: draftListAction,
			},
			{
				Name:      "show",
				Usage:     "Show a draft",
				ArgsUsage: "<draft-id>",
				Action:    draftShowAction,
			},
			{
				Name:      "delete",
				Usage:     "Delete a draft",
				ArgsUsage: "<draft-id>",
				Action:    draftDeleteAction,
			},
			{
				Name:      "submit",
				Usage:     "Submit a draft to the server",
				ArgsUsage: "<draft-id>",
				Action:    draftSubmitAction,
			},
		},
	}
}

// draftSaveAction saves a new draft. Drafts may be incomplete; validation
// only happens at submission time.
func draftSaveAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	draft := incident.Draft{
		Payload: incident.Payload{
			Title:       c.String("title"),
			Description: c.String("description"),
			Category:    c.String("category"),
			Severity:    c.String("severity"),
			Location: incident.Location{
				BuildingID: c.String("building"),
				FloorID:    c.String("floor"),
				Room:       c.String("room"),
			},
			ReporterID: application.Config.Server.ReporterID,
			DeviceName: application.Config.Server.DeviceName,
		},
	}

	for _, path := range c.StringSlice("media") {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("media file %q: %w", path, err)
		}
		draft.Media = append(draft.Media, incident.DraftMedia{
			Path: path,
			Kind: media.KindFromPath(path),
		})
	}

	saved, err := application.Drafts.Save(c.Context, draft)
	if err != nil {
		return fmt.Errorf("saving draft: %w", err)
	}

	utils.PrintSuccess("Draft saved: " + saved.ID)
	return nil
}

// draftListAction lists saved drafts
func draftListAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	drafts, err := application.Drafts.List(c.Context)
	if err != nil {
		return fmt.Errorf("listing drafts: %w", err)
	}

	if len(drafts) == 0 {
		utils.PrintInfo("No drafts saved")
		return nil
	}

	headers := []string{"ID", "Title", "Media", "Offline", "Updated"}
	rows := [][]string{}
	for _, d := range drafts {
		offline := "-"
		if d.IsOffline {
			offline = "pending sync"
		}
		rows = append(rows, []string{
			d.ID,
			d.Payload.Title,
			fmt.Sprintf("%d", len(d.Media)),
			offline,
			utils.FormatAge(d.UpdatedAt),
		})
	}

	utils.PrintTable(headers, rows, utils.TableOptions{Title: "Drafts"})
	return nil
}

// draftShowAction shows a single draft
func draftShowAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("draft id is required")
	}

	draft, err := application.Drafts.Get(c.Context, id)
	if err != nil {
		if errors.Is(err, incident.ErrDraftNotFound) {
			utils.PrintError("Draft not found: " + id)
			return err
		}
		return fmt.Errorf("loading draft: %w", err)
	}

	utils.PrintHeading("Draft " + draft.ID)
	utils.PrintKeyValue("Title", draft.Payload.Title)
	utils.PrintKeyValue("Description", draft.Payload.Description)
	utils.PrintKeyValue("Category", draft.Payload.Category)
	utils.PrintKeyValue("Severity", draft.Payload.Severity)
	utils.PrintKeyValue("Building", draft.Payload.Location.BuildingID)
	utils.PrintKeyValue("Floor", draft.Payload.Location.FloorID)
	utils.PrintKeyValue("Room", draft.Payload.Location.Room)
	utils.PrintKeyValue("Offline", fmt.Sprintf("%v", draft.IsOffline))
	if draft.LastError != "" {
		utils.PrintKeyValue("Last Error", draft.LastError)
	}
	for _, m := range draft.Media {
		utils.PrintKeyValue("Media", fmt.Sprintf("%s (%s)", m.Path, m.Kind))
	}

	return nil
}

// draftDeleteAction deletes a draft
func draftDeleteAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("draft id is required")
	}

	if err := application.Drafts.Delete(c.Context, id); err != nil {
		return fmt.Errorf("deleting draft: %w", err)
	}

	utils.PrintSuccess("Draft deleted: " + id)
	return nil
}

// draftSubmitAction submits a draft to the server
func draftSubmitAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("draft id is required")
	}

	remoteID, err := application.Drafts.Submit(c.Context, id)
	switch {
	case err == nil:
		utils.PrintSuccess("Draft submitted as incident " + remoteID)

	case errors.Is(err, incident.ErrQueuedOffline):
		utils.PrintInfo("Offline; draft will be submitted automatically on the next sync")
		return nil

	case errors.Is(err, incident.ErrValidation):
		utils.PrintError(err.Error())
		return err

	case errors.Is(err, incident.ErrDraftNotFound):
		utils.PrintError("Draft not found: " + id)
		return err

	default:
		return fmt.Errorf("submitting draft: %w", err)
	}

	return nil
}
