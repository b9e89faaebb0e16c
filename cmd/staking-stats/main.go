package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/staking-stats/internal/artifact"
	"github.com/smartdevs17/staking-stats/internal/chain"
	"github.com/smartdevs17/staking-stats/internal/config"
	"github.com/smartdevs17/staking-stats/internal/models"
	"github.com/smartdevs17/staking-stats/internal/scheduler"
	"github.com/smartdevs17/staking-stats/internal/stats"
	"github.com/smartdevs17/staking-stats/internal/storage"
	"github.com/smartdevs17/staking-stats/internal/vcs"
	"github.com/smartdevs17/staking-stats/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// loadConfig loads and validates configuration, applying CLI overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = viper.GetString("log-level")
	}
	if viper.GetBool("debug") {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "staking-stats",
	Short: "Staking statistics refresh job",
	Long: `Computes staking statistics (APR, total staked, active validators) from a
Cosmos REST endpoint, writes them to a JSON artifact and commits the file
when the statistics changed.`,
	Version:       AppVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// serveCmd runs the scheduler and HTTP API until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}

		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

		if err := app.Start(); err != nil {
			app.Stop()
			return fmt.Errorf("failed to start application: %w", err)
		}

		<-signalChan
		app.logger.Info("Received shutdown signal")
		return app.Stop()
	},
}

// runCmd performs one refresh and exits non-zero when it fails
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Refresh the staking stats once",
	RunE: func(cmd *cobra.Command, args []string) error {
		triggerName, _ := cmd.Flags().GetString("trigger")
		trigger, err := models.ParseTrigger(triggerName)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		// stdout carries the run record
		keepStdoutClean(cfg)
		app, err := NewApplication(cfg)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}
		defer app.Close()

		run, runErr := app.RunOnce(trigger)
		if run != nil {
			if err := printJSON(run); err != nil {
				return errors.Join(runErr, err)
			}
		}
		return runErr
	},
}

// historyCmd lists recorded runs
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent refresh runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, "stderr", ""); err != nil {
			return err
		}

		filter := models.RunFilter{}
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		if v, _ := cmd.Flags().GetString("trigger"); v != "" {
			trigger, err := models.ParseTrigger(v)
			if err != nil {
				return err
			}
			filter.Trigger = &trigger
		}
		if v, _ := cmd.Flags().GetString("status"); v != "" {
			filter.Status = &v
		}

		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return err
		}
		if err := store.Connect(); err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(); err != nil {
			return err
		}

		runs, err := store.GetRuns(cmd.Context(), filter)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(runs)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tTRIGGER\tSTATUS\tCHANGED\tCOMMIT\tDURATION\tERROR")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%dms\t%s\n",
				run.StartedAt.Format(time.RFC3339), run.Trigger, run.Status, run.Changed,
				shortHash(run.CommitHash), run.DurationMs, run.Error)
		}
		return w.Flush()
	},
}

// scheduleCmd prints the upcoming scheduled runs
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show the next scheduled runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if !cfg.Scheduler.Enabled {
			fmt.Println("Scheduler is disabled")
			return nil
		}

		sched, err := scheduler.New(&cfg.Scheduler, nil)
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetInt("count")
		fmt.Printf("Schedules: %v (%s)\n", cfg.Scheduler.Schedules, sched.Location())
		for _, next := range sched.NextRuns(time.Now(), count) {
			fmt.Println(next.Format(time.RFC3339))
		}
		return nil
	},
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("staking-stats %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("REST endpoint: %s\n", cfg.Chain.RESTURL)
		fmt.Printf("Output: %s\n", cfg.Output.Path)
		fmt.Printf("Git: enabled=%t push=%t\n", cfg.Git.Enabled, cfg.Git.Push)
		fmt.Printf("Schedules: %v (%s)\n", cfg.Scheduler.Schedules, cfg.Scheduler.Timezone)
		fmt.Printf("History: %s\n", cfg.Storage.Type)
		return nil
	},
}

// testCmd checks connectivity without writing anything
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, "stderr", ""); err != nil {
			return err
		}

		fmt.Printf("Testing chain REST endpoint %s...\n", cfg.Chain.RESTURL)
		client, err := chain.NewClient(&cfg.Chain, nil)
		if err != nil {
			return err
		}
		snapshot, err := stats.NewCalculator(client, cfg.Chain.Decimals, cfg.Chain.ApplyCommunityTax).Calculate(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to compute stats: %w", err)
		}
		fmt.Println("✓ Stats computed")
		if err := printJSON(snapshot); err != nil {
			return err
		}

		stored, err := artifact.NewOSFileStore(cfg.Output.Path).Load()
		switch {
		case errors.Is(err, artifact.ErrCorruptArtifact):
			fmt.Printf("! Artifact %s is unreadable and would be replaced\n", cfg.Output.Path)
		case err != nil:
			return err
		case stored == nil:
			fmt.Printf("! Artifact %s does not exist yet\n", cfg.Output.Path)
		case stored.Equal(snapshot):
			fmt.Println("✓ Artifact is up to date")
		default:
			fmt.Println("! Artifact differs and would be rewritten")
		}

		if cfg.Git.Enabled {
			fmt.Printf("Testing git repository at %s...\n", cfg.Git.RepoPath)
			if _, err := vcs.OpenGitCommitter(&cfg.Git); err != nil {
				return err
			}
			fmt.Println("✓ Git repository found")
		}

		fmt.Printf("Testing storage connection (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return err
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		store.Close()
		fmt.Println("✓ Storage connection successful")

		fmt.Println("\nAll connectivity tests passed! ✓")
		return nil
	},
}

func printJSON(v interface{}) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// keepStdoutClean moves console logging to stderr
func keepStdoutClean(cfg *config.Config) {
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
}

func shortHash(hash string) string {
	if len(hash) > 10 {
		return hash[:10]
	}
	if hash == "" {
		return "-"
	}
	return hash
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	runCmd.Flags().String("trigger", string(models.TriggerManual), "trigger label (manual, schedule)")

	historyCmd.Flags().Int("limit", 20, "number of runs to show")
	historyCmd.Flags().String("trigger", "", "filter by trigger")
	historyCmd.Flags().String("status", "", "filter by status (succeeded, failed)")
	historyCmd.Flags().Bool("json", false, "print runs as JSON")

	scheduleCmd.Flags().Int("count", 4, "number of upcoming runs to show")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
