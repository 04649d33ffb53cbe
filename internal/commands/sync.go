package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"

	"github.com/beaconhq/beacon/internal/app"
	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/loggy"
	"github.com/beaconhq/beacon/internal/syncer"
	"github.com/beaconhq/beacon/internal/utils"
)

// SyncCommand returns the CLI command for syncing queued reports to the server
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:        "sync",
		Usage:       "Sync queued reports with the server",
		Description: "Drains the incident, media and offline draft queues to the server",
		Subcommands: []*cli.Command{
			{
				Name:        "account",
				Usage:       "Manage server account connection",
				Description: "Link or unlink this device with the incident server",
				Subcommands: []*cli.Command{
					{
						Name:        "link",
						Usage:       "Link to the incident server",
						Description: "Connect this device to the incident server",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "token",
								Usage:    "Personal access token issued by the server",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "name",
								Usage: "A name for this device (e.g. 'Facilities Tablet')",
							},
							&cli.StringFlag{
								Name:  "reporter",
								Usage: "Reporter identity stamped on submissions",
							},
						},
						Action: linkAccountAction,
					},
					{
						Name:        "unlink",
						Usage:       "Unlink from the incident server",
						Description: "Remove the connection to the incident server",
						Action:      unlinkAccountAction,
					},
					{
						Name:        "status",
						Usage:       "Check account connection status",
						Description: "Verify if this device is connected to the incident server",
						Action:      accountStatusAction,
					},
				},
			},
			{
				Name:        "status",
				Usage:       "Show sync history",
				Description: "Display the outcome of recent sync operations",
				Action:      syncStatusAction,
			},
			{
				Name:        "config",
				Usage:       "Configure sync settings",
				Description: "Modify sync configuration settings",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "server",
						Usage: "Server URL for syncing",
					},
					&cli.StringFlag{
						Name:  "token",
						Usage: "Personal access token for syncing",
					},
					&cli.StringFlag{
						Name:  "device-name",
						Usage: "Device name for syncing",
					},
					&cli.StringFlag{
						Name:  "reporter",
						Usage: "Reporter identity stamped on submissions",
					},
					&cli.BoolFlag{
						Name:  "enabled",
						Usage: "Enable or disable syncing",
					},
				},
				Action: syncConfigAction,
			},
		},
		Action: syncAction,
	}
}

// syncAction is the main action for the sync command
func syncAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if !application.IsSyncConfigured() {
		return fmt.Errorf("sync is not configured. Use 'beacon sync account link --token <token>' to configure")
	}

	loggy.Info("Starting manual sync")

	model := NewSyncModel(application)
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running sync UI: %w", err)
	}

	return nil
}

// linkAccountAction handles linking to the incident server
func linkAccountAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	token := c.String("token")
	if token == "" {
		return fmt.Errorf("token is required")
	}

	deviceName := c.String("name")
	if deviceName == "" {
		deviceName = application.Config.Server.DeviceName
	}
	if deviceName == "" {
		deviceName = utils.GenerateDeviceName()
	}

	application.Remote.SetToken(token)
	application.Config.Server.Token = token
	application.Config.Server.DeviceName = deviceName
	application.Config.Server.Enabled = true
	if reporter := c.String("reporter"); reporter != "" {
		application.Config.Server.ReporterID = reporter
	}

	if err := config.SaveSyncSettings(ctx, application.Config, application.Settings); err != nil {
		loggy.Warn("Failed to save sync settings", "error", err)
	}

	valid, err := application.Remote.VerifyToken(ctx)
	if err != nil {
		return fmt.Errorf("verifying token: %w", err)
	}

	if !valid {
		return fmt.Errorf("invalid token")
	}

	utils.PrintSuccess("Successfully linked to the incident server as " + deviceName)
	return nil
}

// unlinkAccountAction handles unlinking from the incident server
func unlinkAccountAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	application.Remote.SetToken("")
	application.Config.Server.Token = ""
	application.Config.Server.Enabled = false

	if err := application.Settings.SetSetting(ctx, "sync.server_token", ""); err != nil {
		loggy.Warn("Failed to clear token in settings", "error", err)
	}
	if err := application.Settings.SetSetting(ctx, "sync.enabled", "false"); err != nil {
		loggy.Warn("Failed to save enabled status to settings", "error", err)
	}

	utils.PrintSuccess("Successfully unlinked from the incident server")
	return nil
}

// accountStatusAction handles checking account status
func accountStatusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if !application.IsSyncConfigured() {
		utils.PrintError("Not linked to an incident server")
		return nil
	}

	valid, err := application.Remote.VerifyToken(c.Context)
	if err != nil {
		loggy.Warn("Error verifying token", "error", err)
	}

	if valid {
		utils.PrintHeading("Account Linked")
		utils.PrintKeyValue("Server URL", application.Config.Server.URL)
		utils.PrintKeyValue("Device Name", application.Config.Server.DeviceName)
		utils.PrintKeyValue("Reporter", application.Config.Server.ReporterID)
	} else {
		utils.PrintError("Token is invalid or expired")
	}

	return nil
}

// syncStatusAction shows the outcome of recent sync operations
func syncStatusAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}

	syncLogs, err := application.SyncRepo.ListSyncLogs(c.Context, "", 50)
	if err != nil {
		return fmt.Errorf("error getting sync status: %w", err)
	}

	if len(syncLogs) == 0 {
		utils.PrintInfo("No sync operations recorded yet")
		return nil
	}

	formatSuccess := func(success bool) string {
		if success {
			return "✓ Success"
		}
		return "✗ Failed"
	}

	headers := []string{"Trigger", "Entity", "ID", "Status", "Error", "Completed"}
	rows := [][]string{}
	for _, log := range syncLogs {
		rows = append(rows, []string{
			log.SyncType,
			string(log.EntityType),
			log.EntityID,
			formatSuccess(log.Success),
			truncate(log.ErrorMessage, 48),
			formatTime(log.CompletedAt),
		})
	}

	utils.PrintTable(headers, rows, utils.TableOptions{Title: "Sync Logs"})
	return nil
}

// syncConfigAction handles configuring sync settings
func syncConfigAction(c *cli.Context) error {
	application, err := app.FromContext(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	if c.IsSet("server") {
		serverURL := c.String("server")
		application.Config.Server.URL = serverURL

		if err := application.Settings.SetSetting(ctx, "sync.server_url", serverURL); err != nil {
			loggy.Warn("Failed to save server URL to settings", "error", err)
		}
		utils.PrintKeyValue("Server URL Updated", serverURL)
	}

	if c.IsSet("token") {
		token := c.String("token")
		application.Remote.SetToken(token)
		application.Config.Server.Token = token

		if err := application.Settings.SetSetting(ctx, "sync.server_token", token); err != nil {
			loggy.Warn("Failed to save token to settings", "error", err)
		}
		utils.PrintKeyValue("Token Updated", "(stored)")
	}

	if c.IsSet("device-name") {
		deviceName := c.String("device-name")
		application.Config.Server.DeviceName = deviceName

		if err := application.Settings.SetSetting(ctx, "sync.device_name", deviceName); err != nil {
			loggy.Warn("Failed to save device name to settings", "error", err)
		}
		utils.PrintKeyValue("Device Name Updated", deviceName)
	}

	if c.IsSet("reporter") {
		reporter := c.String("reporter")
		application.Config.Server.ReporterID = reporter

		if err := application.Settings.SetSetting(ctx, "sync.reporter_id", reporter); err != nil {
			loggy.Warn("Failed to save reporter id to settings", "error", err)
		}
		utils.PrintKeyValue("Reporter Updated", reporter)
	}

	if c.IsSet("enabled") {
		enabled := c.Bool("enabled")
		application.Config.Server.Enabled = enabled

		enabledStr := "false"
		if enabled {
			enabledStr = "true"
		}
		if err := application.Settings.SetSetting(ctx, "sync.enabled", enabledStr); err != nil {
			loggy.Warn("Failed to save enabled status to settings", "error", err)
		}
		utils.PrintKeyValue("Sync enabled", fmt.Sprintf("%v", enabled))
	}

	if !c.IsSet("server") && !c.IsSet("token") && !c.IsSet("device-name") && !c.IsSet("reporter") && !c.IsSet("enabled") {
		utils.PrintHeading("Current Sync Configuration")
		utils.PrintKeyValue("Server URL", application.Config.Server.URL)
		utils.PrintKeyValue("Device Name", application.Config.Server.DeviceName)
		utils.PrintKeyValue("Reporter", application.Config.Server.ReporterID)
		utils.PrintKeyValue("Sync enabled", fmt.Sprintf("%v", application.Config.Server.Enabled))
	}

	return nil
}

// SyncKeyMap defines keybindings for the sync TUI
type SyncKeyMap struct {
	Help  key.Binding
	Quit  key.Binding
	Enter key.Binding
}

// ShortHelp returns keybindings to show in the mini help view
func (k SyncKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Quit, k.Enter}
}

// FullHelp returns all keybindings for the help view
func (k SyncKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Help, k.Quit, k.Enter},
	}
}

// DefaultSyncKeyMap returns the default keybindings
func DefaultSyncKeyMap() SyncKeyMap {
	return SyncKeyMap{
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "confirm"),
		),
	}
}

// Message types
type (
	// SyncStartMsg is the initial message sent to the model
	SyncStartMsg struct{}

	// SyncCompleteMsg is sent when the sync pass has finished
	SyncCompleteMsg struct {
		Result syncer.Result
		Error  error
	}
)

// syncStyles holds the lipgloss styles for the sync TUI
type syncStyles struct {
	Title   lipgloss.Style
	Info    lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Subtle  lipgloss.Style
	Section lipgloss.Style
	Border  lipgloss.Style
}

func defaultSyncStyles() syncStyles {
	return syncStyles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("86")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Subtle:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Section: lipgloss.NewStyle().Padding(0, 1),
		Border:  lipgloss.NewStyle().Padding(1, 2),
	}
}

// SyncModel represents the state of the sync TUI
type SyncModel struct {
	app     *app.App
	keymap  SyncKeyMap
	help    help.Model
	spinner spinner.Model
	styles  syncStyles

	ready    bool
	syncing  bool
	showHelp bool
	error    string
	width    int
	height   int
	result   *syncer.Result
}

// NewSyncModel creates a new sync model
func NewSyncModel(a *app.App) SyncModel {
	s := spinner.New()
	s.Spinner = spinner.Dot

	return SyncModel{
		app:     a,
		keymap:  DefaultSyncKeyMap(),
		help:    help.New(),
		spinner: s,
		styles:  defaultSyncStyles(),
	}
}

// Init initializes the model
func (m SyncModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			return SyncStartMsg{}
		},
	)
}

// startSync runs the sync pass and delivers the outcome as a message
func (m SyncModel) startSync() tea.Cmd {
	return func() tea.Msg {
		result, err := m.app.Syncer.CheckAndSync(context.Background(), syncer.TriggerManual)
		return SyncCompleteMsg{Result: result, Error: err}
	}
}

// Update handles messages and updates the model
func (m SyncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keymap.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keymap.Help):
			m.showHelp = !m.showHelp
			return m, nil

		case key.Matches(msg, m.keymap.Enter):
			if !m.syncing && m.result != nil {
				return m, tea.Quit
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		if !m.ready {
			m.ready = true
		}

		m.help.Width = msg.Width

	case spinner.TickMsg:
		if m.syncing {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case SyncStartMsg:
		m.syncing = true
		return m, tea.Batch(
			m.spinner.Tick,
			m.startSync(),
		)

	case SyncCompleteMsg:
		m.syncing = false
		m.result = &msg.Result

		if msg.Error != nil {
			m.error = msg.Error.Error()
		}

		return m, nil
	}

	return m, tea.Batch(cmds...)
}

// View renders the UI
func (m SyncModel) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var sb strings.Builder

	sb.WriteString(m.styles.Title.Render("Beacon Sync"))
	sb.WriteString("\n\n")

	if m.syncing {
		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, m.spinner.View(), " Syncing queued reports..."))
		sb.WriteString("\n\n")
	} else if m.result != nil {
		if m.error != "" {
			sb.WriteString(m.styles.Error.Render("Error: " + m.error))
			sb.WriteString("\n\n")
		}

		var content strings.Builder
		if !m.result.Ran {
			content.WriteString(m.styles.Info.Render("Skipped: offline or another sync was in flight"))
			content.WriteString("\n")
		} else {
			total := m.result.Incidents.Attempted + m.result.Media.Attempted + m.result.Drafts.Attempted
			if total == 0 {
				content.WriteString(m.styles.Info.Render("Nothing to sync! All reports are up to date."))
				content.WriteString("\n")
			} else {
				content.WriteString(fmt.Sprintf("Incidents submitted: %d\n", m.result.Incidents.Submitted))
				content.WriteString(fmt.Sprintf("Media uploaded: %d (deferred: %d)\n", m.result.Media.Uploaded, m.result.Media.Deferred))
				content.WriteString(fmt.Sprintf("Drafts submitted: %d\n", m.result.Drafts.Submitted))

				failed := m.result.Incidents.Failed + m.result.Media.Failed + m.result.Drafts.Failed
				parked := m.result.Incidents.Parked + m.result.Media.Parked + m.result.Drafts.Parked
				stuck := m.result.Incidents.Stuck + m.result.Media.Stuck + m.result.Drafts.Stuck
				if failed > 0 || parked > 0 || stuck > 0 {
					content.WriteString(m.styles.Error.Render(fmt.Sprintf(
						"Failed: %d, rejected by server: %d, need attention: %d", failed, parked, stuck)))
					content.WriteString("\n")
				} else {
					content.WriteString(m.styles.Success.Render("Sync completed successfully!"))
					content.WriteString("\n")
				}
			}
			content.WriteString(m.styles.Subtle.Render(fmt.Sprintf("Duration: %s", m.result.Duration.Round(time.Millisecond))))
		}

		sb.WriteString(m.styles.Section.Render(content.String()))
		sb.WriteString("\n\n")
		sb.WriteString(m.styles.Subtle.Render("Press Enter to exit"))
	} else {
		sb.WriteString(m.styles.Info.Render("Ready to sync..."))
	}

	if m.showHelp {
		sb.WriteString("\n\n" + m.help.View(m.keymap))
	} else {
		sb.WriteString("\n\n" + m.help.ShortHelpView(m.keymap.ShortHelp()))
	}

	return m.styles.Border.Render(sb.String())
}
