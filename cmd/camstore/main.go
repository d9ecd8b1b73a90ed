package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"camstore/internal/app"
	"camstore/internal/config"
	"camstore/internal/model"
	"camstore/internal/supervisor"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file named by the defaults.
func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates an App. The caller must close it with closeApp.
// operation identifies the CLI command being run (e.g. "serve", "backup").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "closing: %v\n", err)
	}
}

// readPassphrase prompts on the terminal without echo. Non-terminal input is
// read as one line.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

var rootCmd = &cobra.Command{
	Use:          "camstore",
	Short:        "Camera capture station storage and archive",
	SilenceUsage: true,
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the flag queue, the backup scheduler and the REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer closeApp(a)
		cfg := a.Config()

		tree := supervisor.NewTree(a.Logger(), supervisor.DefaultTreeConfig())
		tree.AddStorageService(a.Queue())
		if cfg.Backup.Enabled {
			sched, err := a.Scheduler()
			if err != nil {
				return err
			}
			tree.AddArchiveService(sched)
		}
		tree.AddAPIService(supervisor.NewHTTPServerService(a.API().NewHTTPServer(), cfg.Server.ShutdownTimeout.Duration))

		a.Logger().Info("serving", "listen", cfg.Server.Listen, "station", cfg.StationID)
		err = tree.Serve(ctx)
		if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
			a.Logger().Warn("services did not stop in time", "services", len(report))
		}
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("supervisor stopped: %w", err)
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Archive one day of retained frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")

		a, err := newApp(cmd.Context(), "backup")
		if err != nil {
			return err
		}
		defer closeApp(a)

		result, err := a.Backup(cmd.Context(), date)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Backup %s: %s\n", result.Date, result.State)
		fmt.Printf("  entries:    %d (%d bytes)\n", result.Count, result.Size)
		fmt.Printf("  copied:     %d file(s)\n", result.Copied)
		if result.Retired > 0 {
			fmt.Printf("  retired:    %d entries\n", result.Retired)
		}
		if result.Replicated > 0 {
			fmt.Printf("  offsite:    %d file(s)\n", result.Replicated)
		}
		for _, e := range result.Errors {
			fmt.Printf("  error: %s\n", e)
		}
		return nil
	},
}

// cleanup command
var cleanupCmd = &cobra.Command{
	Use:   "cleanup KIND",
	Short: "Delete entries marked for deletion (images, videos or backup)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		orphans, _ := cmd.Flags().GetBool("orphans")

		a, err := newApp(cmd.Context(), "cleanup")
		if err != nil {
			return err
		}
		defer closeApp(a)

		result, err := a.Cleanup(cmd.Context(), args[0], date, orphans)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}

		fmt.Printf("Cleanup %s: deleted %d entries\n", result.Key, result.DeletedCount)
		fmt.Printf("  files in use: %d, unreferenced: %d\n", result.FilesUsed, result.FilesUnused)
		for _, name := range result.OrphansRemoved {
			fmt.Printf("  removed orphan: %s\n", name)
		}
		for _, e := range result.Errors {
			fmt.Printf("  error: %s\n", e)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View archive run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "history")
		if err != nil {
			return err
		}
		defer closeApp(a)

		ops, err := a.History(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No archive runs recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if d := op.Duration(); d > 0 {
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s  %-8s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.Parameters,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Summary,
			)
		}
		return nil
	},
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

		stationID := uuid.New().String()
		cfg := config.NewConfig(stationID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Station ID: %s\n", stationID)
		fmt.Printf("Base Dir:   %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		cfg.ApplyDefaults()

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Station ID:  %s\n", cfg.StationID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Images:      %s\n", cfg.Layout.ImagesDir)
		fmt.Printf("Videos:      %s\n", cfg.Layout.VideosDir)
		fmt.Printf("Archive:     %s\n", cfg.Layout.ArchiveDir)
		fmt.Printf("Storage:     %s\n", cfg.Storage.Type)
		fmt.Printf("Backup:      enabled=%t at %s, day offset %d\n", cfg.Backup.Enabled, cfg.Backup.Time, cfg.Backup.DayOffset)
		fmt.Printf("Listen:      %s\n", cfg.Server.Listen)
		for _, c := range cfg.Cameras {
			fmt.Printf("Camera %-8s threshold=%.1f keyframe=%s\n", c.ID, c.Threshold, c.KeyframeInterval.Duration)
		}
		if cfg.Offsite.Enabled {
			fmt.Printf("Offsite:     %s vault %q, encrypt=%t\n", cfg.Offsite.Vault.Type, cfg.Offsite.Vault.Name, cfg.Offsite.Encrypt)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage offsite encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the offsite encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := app.SetupKeys(cfg, passphrase); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s (passphrase protected)\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// offsite command
var offsiteCmd = &cobra.Command{
	Use:   "offsite",
	Short: "Access replicated snapshots",
}

var offsiteGetCmd = &cobra.Command{
	Use:   "get DATE NAME OUT",
	Short: "Restore one archived file from the vault",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, name, out := args[0], args[1], args[2]
		if !model.ValidDate(date) {
			return fmt.Errorf("invalid date %q, want YYYYMMDD", date)
		}

		a, err := newApp(cmd.Context(), "offsite")
		if err != nil {
			return err
		}
		defer closeApp(a)

		encrypted, err := a.NeedsPassphrase(date)
		if err != nil {
			return err
		}
		var passphrase string
		if encrypted {
			if passphrase, err = readPassphrase("Passphrase: "); err != nil {
				return err
			}
		}

		if err := a.OffsiteGet(date, name, out, passphrase); err != nil {
			return err
		}
		fmt.Printf("Restored %s to %s\n", name, out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().String("date", "", "Date to archive as YYYYMMDD (default: today plus the configured day offset)")

	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().String("date", "", "Snapshot date as YYYYMMDD (backup only)")
	cleanupCmd.Flags().Bool("orphans", false, "Also delete files no entry references")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	rootCmd.AddCommand(configCmd)

	keysCmd.AddCommand(keysInitCmd)
	rootCmd.AddCommand(keysCmd)

	offsiteCmd.AddCommand(offsiteGetCmd)
	rootCmd.AddCommand(offsiteCmd)
}
