package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tt-go/internal/app"
	"tt-go/internal/config"
	"tt-go/internal/localstore"
	remotemigrations "tt-go/internal/remotestore/migrations"
	"tt-go/internal/tracker"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a TrackerApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Start", "Sync").
func newApp(ctx context.Context, operation string) (*app.TrackerApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewTrackerApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// formatElapsed renders whole seconds as H:MM:SS.
func formatElapsed(seconds int64) string {
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}

// readPassphrase prompts for a passphrase without echoing it.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pw), nil
}

var rootCmd = &cobra.Command{
	Use:   "tt",
	Short: "Personal time tracker with cross-device timer coordination",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			userID = uuid.New().String()
		}

		cfg := config.NewConfig(userID, defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("User ID:  %s\n", userID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])

		// Seed the default activity set so tracking works immediately.
		a, err := app.NewTrackerApp(cmd.Context(), cfg, "ConfigInit")
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		count, err := a.SeedDefaults(cmd.Context())
		if err != nil {
			return fmt.Errorf("seeding default activities: %w", err)
		}
		if count > 0 {
			fmt.Printf("Seeded %d default activities\n", count)
		}
		fmt.Println("Run `tt config keys` to set up archive encryption.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("User ID:  %s\n", cfg.UserID)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Local:    %s (%s)\n", cfg.Local.Type, cfg.Local.DataDir)
		fmt.Printf("Remote:   %s\n", cfg.Remote.Type)
		fmt.Printf("Archive:  %s\n", cfg.Archive.Type)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate archive encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SetupEncryption")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("Passphrase for the private key: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.SetupEncryption(pass); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Println("Encryption keys generated.")
		return nil
	},
}

var configMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply store schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		// Opening the local store applies any outstanding migrations.
		local, err := localstore.NewLocalStoreFromConfig(cfg.Local, cfg.UserID)
		if err != nil {
			return fmt.Errorf("migrating local store: %w", err)
		}
		defer local.Close()
		if s, ok := local.(*localstore.SQLiteStore); ok {
			if err := s.CheckMigrations(); err != nil {
				return fmt.Errorf("local schema check: %w", err)
			}
		}
		fmt.Println("Local store schema is up to date.")

		if cfg.Remote.Type == "postgres" && cfg.Remote.URL != "" {
			if err := remotemigrations.MigrateUp(cfg.Remote.URL); err != nil {
				return fmt.Errorf("migrating remote store: %w", err)
			}
			fmt.Println("Remote store schema is up to date.")
		}
		return nil
	},
}

// activity command
var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Manage activities",
}

var activityAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create an activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		color, _ := cmd.Flags().GetString("color")
		icon, _ := cmd.Flags().GetString("icon")

		a, err := newApp(cmd.Context(), "AddActivity")
		if err != nil {
			return err
		}
		defer a.Close()

		activity, err := a.AddActivity(cmd.Context(), args[0], color, icon)
		if err != nil {
			return err
		}
		fmt.Printf("Created activity %q (%s)\n", activity.Name, activity.ID)
		return nil
	},
}

var activityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List activities",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListActivities")
		if err != nil {
			return err
		}
		defer a.Close()

		activities, err := a.ListActivities(cmd.Context())
		if err != nil {
			return err
		}
		if len(activities) == 0 {
			fmt.Println("No activities. Create one with `tt activity add NAME`.")
			return nil
		}
		for _, act := range activities {
			fmt.Printf("%-20s %-8s %s\n", act.Name, act.Color, act.Icon)
		}
		return nil
	},
}

var activityRmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Delete an activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RemoveActivity")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveActivity(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted activity %q\n", args[0])
		return nil
	},
}

// start command
var startCmd = &cobra.Command{
	Use:   "start ACTIVITY",
	Short: "Start tracking an activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Start")
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.Start(cmd.Context(), args[0])
		var remoteErr *tracker.RemoteWriteError
		if errors.As(err, &remoteErr) {
			fmt.Fprintf(os.Stderr, "warning: timer started locally but the global record was not published: %v\n", remoteErr)
		} else if err != nil {
			return err
		}
		fmt.Printf("Tracking %q (session %s)\n", args[0], session.ID)
		return nil
	},
}

// stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Stop")
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.Stop(cmd.Context())
		var remoteErr *tracker.RemoteWriteError
		if errors.As(err, &remoteErr) {
			fmt.Fprintf(os.Stderr, "warning: session stopped locally but the global record was not cleared: %v\n", remoteErr)
		} else if err != nil {
			return err
		}
		if session == nil {
			fmt.Println("No timer running on this device.")
			return nil
		}
		fmt.Printf("Stopped after %s\n", formatElapsed(*session.Duration))
		return nil
	},
}

// switch command
var switchCmd = &cobra.Command{
	Use:   "switch ACTIVITY",
	Short: "Stop the current session and start a new one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Switch")
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.Switch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Now tracking %q (session %s)\n", args[0], session.ID)
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local and global timer state",
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")

		a, err := newApp(cmd.Context(), "Status")
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}
		printStatus(status)

		if !watch || status.Local == nil || !status.Local.IsRunning || status.Local.StartTime == nil {
			return nil
		}

		// Elapsed time is re-derived from wall clock every tick, so a
		// suspended laptop shows the right time on resume.
		start := *status.Local.StartTime
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-cmd.Context().Done():
				return nil
			case now := <-ticker.C:
				fmt.Printf("\r%s", formatElapsed(int64(now.Sub(start).Seconds())))
			}
		}
	},
}

func printStatus(status *tracker.TimerStatus) {
	fmt.Printf("Device: %s (%s)\n", status.DeviceName, status.DeviceID)

	if status.Local != nil && status.Local.IsRunning {
		fmt.Printf("Local:  running, %s elapsed (session %s)\n",
			formatElapsed(status.ElapsedSeconds), status.Local.CurrentSessionID)
	} else {
		fmt.Println("Local:  idle")
	}

	switch {
	case status.Global == nil:
		fmt.Println("Global: no timer record")
	case status.Global.IsRunning && status.OwnedByThisDevice():
		fmt.Println("Global: running, owned by this device")
	case status.Global.IsRunning:
		fmt.Printf("Global: running on %s\n", status.Global.DeviceName)
	default:
		fmt.Println("Global: stopped")
	}

	if status.Conflict {
		fmt.Printf("\n%s\nUse `tt takeover` to move the timer here.\n", status.ConflictMessage)
	}
}

// takeover command
var takeoverCmd = &cobra.Command{
	Use:   "takeover",
	Short: "Move a timer running on another device to this one",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "TakeOver")
		if err != nil {
			return err
		}
		defer a.Close()

		state, err := a.TakeOver(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Timer transferred to this device (session %s, running since %s)\n",
			state.CurrentSessionID, state.StartTime.Format("15:04:05"))
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full sync pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		result := a.Sync(cmd.Context())
		fmt.Printf("Activities: %d pushed, %d pulled\n", result.Activities.Pushed, result.Activities.Pulled)
		fmt.Printf("Sessions:   %d pushed, %d pulled, %d failed\n",
			result.Sessions.Pushed, result.Sessions.Pulled, result.Sessions.Failed)
		if !result.Success {
			for _, e := range result.Activities.Errors {
				fmt.Fprintf(os.Stderr, "activity sync: %v\n", e)
			}
			for _, e := range result.Sessions.Errors {
				fmt.Fprintf(os.Stderr, "session sync: %v\n", e)
			}
			return fmt.Errorf("sync completed with errors")
		}
		return nil
	},
}

// devices command
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices registered for this user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Devices")
		if err != nil {
			return err
		}
		defer a.Close()

		devices, err := a.Devices(cmd.Context())
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No devices registered.")
			return nil
		}
		for _, d := range devices {
			fmt.Printf("%-16s %-20s last seen %s\n", d.DeviceID, d.DeviceName,
				d.LastSeen.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

// summary command
var summaryCmd = &cobra.Command{
	Use:   "summary [DATE]",
	Short: "Daily totals per activity (DATE as YYYY-MM-DD, default today)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date := time.Now().Format("2006-01-02")
		if len(args) > 0 {
			date = args[0]
		}

		a, err := newApp(cmd.Context(), "Summary")
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.Summary(cmd.Context(), date)
		if err != nil {
			return err
		}

		activities, err := a.ListActivities(cmd.Context())
		if err != nil {
			return err
		}
		names := make(map[string]string, len(activities))
		for _, act := range activities {
			names[act.ID] = act.Name
		}

		fmt.Printf("%s: %s total\n", summary.Date, formatElapsed(summary.TotalSeconds))
		for _, t := range summary.Activities {
			name := names[t.ActivityID]
			if name == "" {
				name = t.ActivityID
			}
			fmt.Printf("  %-20s %s (%d sessions)\n", name, formatElapsed(t.TotalSeconds), t.SessionCount)
		}
		return nil
	},
}

// sessions command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent sessions on this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "Sessions")
		if err != nil {
			return err
		}
		defer a.Close()

		sessions, err := a.Sessions(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}

		activities, err := a.ListActivities(cmd.Context())
		if err != nil {
			return err
		}
		names := make(map[string]string, len(activities))
		for _, act := range activities {
			names[act.ID] = act.Name
		}

		for _, s := range sessions {
			name := names[s.ActivityID]
			if name == "" {
				name = s.ActivityID
			}
			when := s.StartTime.Local().Format("2006-01-02 15:04")
			if s.Duration != nil {
				fmt.Printf("%s  %-20s %-10s %s\n", when, name, formatElapsed(*s.Duration), s.SyncStatus)
			} else {
				fmt.Printf("%s  %-20s %-10s %s\n", when, name, "running", s.SyncStatus)
			}
		}
		return nil
	},
}

// daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run background sync and heartbeat until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Daemon")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Println("Sync daemon running. Ctrl-C to stop.")
		a.Runner().Run(ctx)
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage encrypted database archives",
}

var archiveCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot, encrypt and upload the local database",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CreateArchive")
		if err != nil {
			return err
		}
		defer a.Close()

		key, err := a.CreateArchive(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Archive created: %s\n", key)
		return nil
	},
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ListArchives")
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.ListArchives(cmd.Context())
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No archives stored.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%-48s %10d  %s\n", e.Key, e.Size, e.ModTime.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var archiveRestoreCmd = &cobra.Command{
	Use:   "restore KEY",
	Short: "Download and decrypt an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RestoreArchive")
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}

		dest, err := a.RestoreArchive(cmd.Context(), args[0], pass)
		if err != nil {
			return err
		}
		fmt.Printf("Restored to %s\n", dest)
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("user", "", "User ID to configure (default: generated)")
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configMigrateCmd)

	// activity subcommands
	activityCmd.AddCommand(activityAddCmd)
	activityAddCmd.Flags().String("color", "#3B82F6", "Hex display color")
	activityAddCmd.Flags().String("icon", "Circle", "Icon identifier")
	activityCmd.AddCommand(activityListCmd)
	activityCmd.AddCommand(activityRmCmd)

	// archive subcommands
	archiveCmd.AddCommand(archiveCreateCmd)
	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveRestoreCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(activityCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolP("watch", "w", false, "Keep printing elapsed time every second")
	rootCmd.AddCommand(takeoverCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.Flags().IntP("limit", "n", 20, "Maximum sessions to show")
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(archiveCmd)
}
