package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brensch/marcreport/internal/config"
	"github.com/brensch/marcreport/internal/db"
)

const noModeMessage = "Please provide either the --update, --report, or --both argument."

// errNoMode makes Execute exit non-zero after the usage hint was printed.
var errNoMode = errors.New("no mode selected")

var (
	// Config flags - bound in init()
	cfgFile          string
	dbPath           string
	reportPath       string
	workers          int
	maxItems         int
	progressInterval int
	removeExtracted  bool
	stopOnError      bool
	logFormat        string
	logLevel         string
	logOutput        string

	// Mode flags
	modeReport bool
	modeUpdate bool
	modeBoth   bool
	useTUI     bool

	fieldProbes []string

	// Global instances populated in PersistentPreRunE
	rootLogger *slog.Logger
	logFile    *os.File
	dbConn     *sql.DB
	appConfig  config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "marcreport",
	Short: "Extract bookplate data from MARC export archives.",
	Long: `marcreport walks a directory of compressed MARC 21 export archives in
numeric order, unpacks each one, streams its records and writes every record
whose 996 $u mentions a bookplate to a Parquet report. Each run is recorded in
a DuckDB event log.

Select a mode with --report, --update or --both. The directories come from
MARC_DAILY_SOURCE_DIR, MARC_FULL_SOURCE_DIR and MARC_FULL_OUTPUT_DIR, or from
the TOML file given with --config.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// --- 1. Initialize Logger ---
		logger, f, err := newLogger(logLevel, logFormat, logOutput)
		if err != nil {
			return err
		}
		rootLogger, logFile = logger, f
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Logger initialized", "level", logLevel, "format", logFormat, "output", logOutput)

		// --- 2. Load Config (defaults < file < env < flags) ---
		appConfig, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		applyFlags(cmd, &appConfig)
		rootLogger.Debug("Configuration loaded", slog.Any("config", appConfig))

		// --- 3. Initialize DuckDB Connection & Schema ---
		if appConfig.DbPath != "" && appConfig.DbPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(appConfig.DbPath), 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		path := appConfig.DbPath
		if path == ":memory:" {
			path = ""
		}
		rootLogger.Debug("Initializing DuckDB connection", "path", appConfig.DbPath)
		dbConn, err = db.Open(path)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		closeResources()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}
		if !modeReport && !modeUpdate && !modeBoth {
			fmt.Fprintln(cmd.OutOrStdout(), noModeMessage)
			return errNoMode
		}

		var errs []error
		if modeReport || modeBoth {
			if err := runReport(cmd.Context(), cmd.OutOrStdout(), cfg, getDB(), logger, useTUI); err != nil {
				errs = append(errs, err)
			}
		}
		if modeUpdate || modeBoth {
			runDailyUpdate(cfg, logger)
		}
		return errors.Join(errs...)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(inspectCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errNoMode) {
			if rootLogger != nil {
				rootLogger.Error("Command execution failed", "error", err)
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		// PostRun is skipped when RunE fails.
		closeResources()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Optional TOML config file")
	pf.StringVarP(&dbPath, "db-path", "d", config.DefaultDbPath, "Path to DuckDB event log database (:memory: for in-memory)")
	pf.StringVar(&reportPath, "report-path", config.DefaultReportPath, "Path of the Parquet bookplate report")
	pf.IntVarP(&workers, "workers", "w", config.DefaultNumWorkers, "Number of archives processed concurrently")
	pf.IntVar(&maxItems, "max-items", 0, "Process at most this many archives (0 for all)")
	pf.IntVar(&progressInterval, "progress-interval", config.DefaultProgressInterval, "Archives between progress notices (0 disables)")
	pf.BoolVar(&removeExtracted, "remove-extracted", false, "Delete each extracted content file once processed")
	pf.BoolVar(&stopOnError, "stop-on-error", false, "Abort the run at the first failing archive")
	pf.StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Flags().BoolVar(&modeReport, "report", false, "Build the bookplate report from the full export")
	rootCmd.Flags().BoolVar(&modeUpdate, "update", false, "Trigger the daily database update")
	rootCmd.Flags().BoolVar(&modeBoth, "both", false, "Run the report, then the daily update")
	rootCmd.Flags().BoolVar(&useTUI, "tui", false, "Show an interactive progress view during the report")
	rootCmd.Flags().StringSliceVar(&fieldProbes, "field", nil, "Log this subfield for every record at debug level, e.g. 245a (repeatable)")

	rootCmd.Version = "0.1.0"
}

// applyFlags overrides cfg with every flag the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("db-path") || cfg.DbPath == "" {
		cfg.DbPath = dbPath
	}
	if flags.Changed("report-path") || cfg.ReportPath == "" {
		cfg.ReportPath = reportPath
	}
	if flags.Changed("workers") {
		cfg.NumWorkers = workers
	}
	if flags.Changed("max-items") {
		cfg.MaxItems = maxItems
	}
	if flags.Changed("progress-interval") {
		cfg.ProgressInterval = progressInterval
	}
	if flags.Changed("remove-extracted") {
		cfg.RemoveExtracted = removeExtracted
	}
	if flags.Changed("stop-on-error") {
		cfg.StopOnError = stopOnError
	}
	if flags.Changed("field") {
		cfg.FieldProbes = fieldProbes
	}
}

func newLogger(level, format, output string) (*slog.Logger, *os.File, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	var f *os.File
	switch strings.ToLower(output) {
	case "", "stderr":
	case "stdout":
		w = os.Stdout
	default:
		var err error
		f, err = os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", output, err)
		}
		w = f
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), f, nil
}

func closeResources() {
	if dbConn != nil {
		if err := dbConn.Close(); err != nil {
			getLogger().Error("Failed to close DuckDB connection cleanly", "error", err)
		}
		dbConn = nil
	}
	if logFile != nil {
		logFile.Sync()
		logFile.Close()
		logFile = nil
	}
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getDB() *sql.DB {
	return dbConn
}

func getConfig() config.Config {
	return appConfig
}
