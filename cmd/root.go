package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/SergeiSkv/pictofix/dataset"
	"github.com/SergeiSkv/pictofix/history"
	"github.com/SergeiSkv/pictofix/normalizer"
	"github.com/SergeiSkv/pictofix/server"
	"github.com/SergeiSkv/pictofix/version"
)

var (
	jsonOutput    bool
	configPath    string
	filePath      string
	verbose       bool
	logLevel      string
	noHistory     bool
	profile       string
	dryRun        bool
	skipUnchanged bool
	keepExtra     bool
	historyLimit  int
	clearHistory  bool
	serveAddr     string
	logger        *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pictofix [file]",
	Short: "pictofix - clean up the picto dataset",
	Long: `pictofix normalizes the bonus texts of the picto dataset and keeps its
records in a stable key order. Every rewrite is recorded so it can be undone.

Running pictofix without a subcommand normalizes the dataset.`,
	Example: `
  pictofix                             # Normalize public/pictofr_new.json
  pictofix check                       # Exit 1 if bonuses need fixing (CI)
  pictofix normalize --dry-run data.json
  pictofix reorder --keep-extra        # Canonical key order, keep unknown keys
  pictofix history                     # List recorded runs
  pictofix restore <run-id>            # Undo a run
  pictofix serve --addr :8080          # Browse the dataset over HTTP`,
	Args: cobra.MaximumNArgs(1),
	Run:  runNormalize,
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize [file]",
	Short: "Normalize the bonus text of every picto",
	Args:  cobra.MaximumNArgs(1),
	Run:   runNormalize,
}

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Report bonuses that need normalizing, without writing",
	Long:  `Runs the normalizer in dry-run mode and exits with status 1 if any bonus would change.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := mustLoadConfig()
		report, err := normalizeFile(config, runOptions{
			path:    datasetPath(config, args),
			profile: profile,
			dryRun:  true,
		})
		if err != nil {
			slog.Error("Check failed", "error", err)
			os.Exit(1)
		}
		outputReport(config, report)
		if report.Changed > 0 {
			os.Exit(1)
		}
	},
}

var reorderCmd = &cobra.Command{
	Use:   "reorder [file]",
	Short: "Rewrite every picto with the keys id, name, zone, niveau, bonus, emplacement",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := mustLoadConfig()
		report, err := reorderFile(config, runOptions{
			path:      datasetPath(config, args),
			dryRun:    dryRun,
			keepExtra: keepExtra,
		})
		if err != nil {
			slog.Error("Reorder failed", "error", err)
			os.Exit(1)
		}
		outputReport(config, report)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [file]",
	Short: "List recorded runs",
	Long:  `Shows the runs recorded next to the dataset and statistics about the history store.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := mustLoadConfig()
		config.History.Enabled = true

		store, err := openHistory(config, datasetPath(config, args))
		if err != nil {
			slog.Error("Failed to open history", "error", err)
			os.Exit(1)
		}
		defer closeHistory(store)

		if clearHistory {
			if err := store.Clear(); err != nil {
				slog.Error("Failed to clear history", "error", err)
				os.Exit(1)
			}
			slog.Info("History cleared")
		}

		out := HistoryOutput{Dir: store.Dir()}
		if out.Stats, err = store.Stats(); err != nil {
			slog.Error("Failed to read history", "error", err)
			os.Exit(1)
		}
		if out.Runs, err = store.Runs(historyLimit); err != nil {
			slog.Error("Failed to read history", "error", err)
			os.Exit(1)
		}

		if config.UseJSON() {
			if err := writeJSON(os.Stdout, out); err != nil {
				slog.Error("Error encoding JSON", "error", err)
				os.Exit(1)
			}
			return
		}
		fmt.Print(formatHistory(out))
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <run-id> [file]",
	Short: "Write back the dataset as it was before a run",
	Long: `Write back the dataset as it was before a run.
The history is looked up next to the dataset, given as the second
argument, --file or the config, in that order.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		config := mustLoadConfig()
		config.History.Enabled = true

		run, err := restoreRun(config, args[0], datasetPath(config, args[1:]))
		if err != nil {
			slog.Error("Restore failed", "run", args[0], "error", err)
			os.Exit(1)
		}

		if config.UseJSON() {
			if err := writeJSON(os.Stdout, run); err != nil {
				slog.Error("Error encoding JSON", "error", err)
				os.Exit(1)
			}
			return
		}
		if run.HashBefore == run.HashAfter {
			fmt.Printf("%s already matches run %s, nothing written\n", run.Path, args[0])
			return
		}
		fmt.Printf("Restored %s from run %s (%d records)\n", run.Path, args[0], run.Records)
		if run.ID != "" {
			fmt.Printf("Undo with: pictofix restore %s\n", run.ID)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve [file]",
	Short: "Serve the dataset read-only over HTTP",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := mustLoadConfig()
		path := datasetPath(config, args)

		ds, err := dataset.Load(path)
		if err != nil {
			slog.Error("Failed to load dataset", "file", path, "error", err)
			os.Exit(1)
		}
		warnDuplicates(ds)

		n, err := normalizer.New(config.NormalizerOptions(profile))
		if err != nil {
			slog.Error("Invalid normalizer settings", "error", err)
			os.Exit(1)
		}

		addr := serveAddr
		if addr == "" {
			addr = config.Server.Addr
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := serve(ctx, addr, server.New(ds, n, config.ServerOptions(), logger)); err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the normalizer rules and profiles",
	Run: func(cmd *cobra.Command, args []string) {
		config := mustLoadConfig()
		if config.UseJSON() {
			if err := writeJSON(os.Stdout, listRules(config)); err != nil {
				slog.Error("Error encoding JSON", "error", err)
				os.Exit(1)
			}
			return
		}
		fmt.Print(formatRules(config))
	},
}

var initConfigCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Creates a .pictofix.yaml configuration file with default settings.`,
	Run: func(cmd *cobra.Command, args []string) {
		createDefaultConfig()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("pictofix version %s\n", version.Version))
		sb.WriteString(fmt.Sprintf("Commit: %s\n", version.CommitHash))
		sb.WriteString(fmt.Sprintf("Built: %s\n", version.BuiltAt))
		fmt.Print(sb.String())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output results in JSON format")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&filePath, "file", "f", "", "Dataset file (default: paths.dataset from config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "Do not record the run or snapshot the dataset")

	for _, c := range []*cobra.Command{rootCmd, normalizeCmd, checkCmd} {
		c.Flags().StringVarP(&profile, "profile", "p", "", "Normalizer profile: glued, labels, composed")
	}
	for _, c := range []*cobra.Command{rootCmd, normalizeCmd} {
		c.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Show the corrections without writing")
		c.Flags().BoolVar(&skipUnchanged, "skip-unchanged", false, "Skip the dataset if pictofix wrote it last and it was not edited since")
	}
	reorderCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Count the records to reorder without writing")
	reorderCmd.Flags().BoolVar(&keepExtra, "keep-extra", false, "Keep unknown keys after the canonical ones instead of dropping them")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "Number of runs to list (0 = all)")
	historyCmd.Flags().BoolVar(&clearHistory, "clear", false, "Delete every recorded run and snapshot")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr from config)")
	serveCmd.Flags().StringVarP(&profile, "profile", "p", "", "Normalizer profile for the preview endpoint")

	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(reorderCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(versionCmd)

	// Setup logger
	cobra.OnInitialize(initLogger, watchSignals)
}

func initLogger() {
	// Parse log level
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if verbose && level > slog.LevelDebug {
		level = slog.LevelDebug
	}

	// Configure handler based on output format
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: verbose,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Remove time, level, source - only show message and custom attrs
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey || a.Key == slog.SourceKey {
				return slog.Attr{}
			}
			return a
		},
	}

	if jsonOutput {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// watchSignals flags the process as closing on SIGINT/SIGTERM. Commands check
// the flag before writing, so an interrupted run leaves the dataset alone.
func watchSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		version.ClosingStatus.Store(true)
		slog.Warn("Interrupt received, stopping before the next write")
		<-ch
		os.Exit(130)
	}()
}

func Execute() error {
	return rootCmd.Execute()
}

func mustLoadConfig() *Config {
	config, err := LoadConfig(configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if noHistory {
		config.History.Enabled = false
	}
	return config
}

func runNormalize(cmd *cobra.Command, args []string) {
	config := mustLoadConfig()
	report, err := normalizeFile(config, runOptions{
		path:          datasetPath(config, args),
		profile:       profile,
		dryRun:        dryRun,
		skipUnchanged: skipUnchanged,
	})
	if err != nil {
		if errors.Is(err, history.ErrLocked) {
			slog.Error("Another pictofix run holds the history lock, try again", "error", err)
			os.Exit(1)
		}
		slog.Error("Normalize failed", "error", err)
		os.Exit(1)
	}
	outputReport(config, report)
}

func outputReport(config *Config, report *Report) {
	if config.UseJSON() {
		if err := writeJSON(os.Stdout, report); err != nil {
			slog.Error("Error encoding JSON", "error", err)
			os.Exit(1)
		}
		return
	}
	fmt.Print(formatReport(report, config.Output.MaxChanges))
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Serving pictos", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func createDefaultConfig() {
	config := DefaultConfig()

	// Create YAML config
	yamlData, err := yaml.Marshal(config)
	if err != nil {
		slog.Error("Failed to marshal config", "error", err)
		os.Exit(1)
	}

	const configFile = ".pictofix.yaml"
	const configFileMode = 0644
	if _, err := os.Stat(configFile); err == nil {
		slog.Error("Config file already exists", "file", configFile)
		os.Exit(1)
	}
	err = os.WriteFile(configFile, yamlData, configFileMode)
	if err != nil {
		slog.Error("Failed to write config file", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Created default configuration file: %s\n", configFile)
	fmt.Println("\tEdit this file to customize the normalizer rules and paths")
	fmt.Println("")
	fmt.Println("Example usage:")
	fmt.Println("  pictofix --config=.pictofix.yaml normalize")
}
