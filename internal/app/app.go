package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"range-export/internal/config"
	etlio "range-export/internal/io"
	"range-export/internal/logging"
	"range-export/internal/processor"
	"range-export/internal/source"
	"range-export/internal/util"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Define common application-level errors.
var (
	ErrUsage          = errors.New("usage error")
	ErrConfigNotFound = errors.New("configuration file not found")
)

// closeTimeout bounds releasing the source connection after the run.
const closeTimeout = 5 * time.Second

// --- Factory Variables (Allow Overriding for Testing) ---
var (
	loadCredentialsFunc   = config.LoadCredentials
	connectSourceFunc     = source.Connect
	newProcessorFunc      = processor.New
	newCSVErrorWriterFunc = etlio.NewCSVErrorWriter
	newReportWriterFunc   = func(path string) etlio.ReportWriter { return etlio.NewXLSXReportWriter(path) }
	newRunIDFunc          = uuid.NewString
	osStatFunc            = os.Stat
)

// AppRunner encapsulates the application's execution logic.
type AppRunner struct{}

// NewAppRunner creates a new instance of the application runner.
func NewAppRunner() *AppRunner {
	return &AppRunner{}
}

// options are the command-line flags of one invocation.
type options struct {
	configFile string
	envFile    string
	outputDir  string
	logLevel   string
	dryRun     bool
}

const longHelp = `range-export reads species range records from a PostgreSQL/PostGIS or SQLite
database and writes them as ESRI shapefile sets (.shp, .shx, .dbf, .prj, .cpg).

Database credentials come from the environment, optionally loaded from a .env file:
  USER, PASS, HOST, PORT (default 5432), DB
  DB_CREDENTIALS   full connection string, overrides the variables above

Paths and connection strings may reference $VAR, ${VAR} or %VAR%.`

const examples = `  range-export
  range-export --config=config/range-export.yaml --loglevel=debug
  range-export --env-file=prod.env --output=/data/shapefiles
  range-export --dry-run`

// command builds the cobra root command; run is called with the parsed options.
func (a *AppRunner) command(run func(cmd *cobra.Command, opts options) error) *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:           "range-export",
		Short:         "Export species ranges from a database to shapefiles",
		Long:          longHelp,
		Example:       examples,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: unexpected arguments %v", ErrUsage, args)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	})

	flags := cmd.Flags()
	flags.StringVar(&opts.configFile, "config", config.DefaultConfigFile, "YAML job file (optional unless set explicitly)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "file with database credentials (missing file is ignored)")
	flags.StringVar(&opts.outputDir, "output", "", "override output.dir from the job file")
	flags.StringVar(&opts.logLevel, "loglevel", config.DefaultLogLevel, "logging level (none, error, warn, info, debug)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "fetch and convert but write no shapefiles")
	return cmd
}

// Usage prints the command-line help information to the specified writer.
func (a *AppRunner) Usage(w io.Writer) {
	cmd := a.command(func(*cobra.Command, options) error { return nil })
	cmd.SetOut(w)
	_ = cmd.Usage()
}

// Run executes the export with a background context.
func (a *AppRunner) Run(args []string) error {
	return a.RunContext(context.Background(), args)
}

// RunContext parses args and executes the export: connect, fetch, convert
// and write, then close. Cancelling ctx aborts the query and conversion.
func (a *AppRunner) RunContext(ctx context.Context, args []string) error {
	cmd := a.command(func(cmd *cobra.Command, opts options) error {
		return a.export(cmd.Context(), opts, cmd.Flags().Changed("config"), cmd.Flags().Changed("loglevel"))
	})
	cmd.SetArgs(args)
	cmd.SetOut(os.Stderr)
	cmd.SetErr(os.Stderr)
	return cmd.ExecuteContext(ctx)
}

func (a *AppRunner) export(ctx context.Context, opts options, configExplicit, levelExplicit bool) error {
	logging.SetupLogging(opts.logLevel)

	cfg, err := loadJobConfig(opts.configFile, configExplicit)
	if err != nil {
		return err
	}
	if !levelExplicit && cfg.Logging.Level != "" {
		logging.SetupLogging(cfg.Logging.Level)
	}
	if opts.outputDir != "" {
		logging.Logf(logging.Info, "Override output dir: %s", opts.outputDir)
		cfg.Output.Dir = opts.outputDir
	}
	if opts.dryRun {
		cfg.DryRun = true
	}

	runID := newRunIDFunc()
	logging.SetRunID(runID)
	defer logging.SetRunID("")
	if cfg.Logging.File != "" {
		if err := logging.SetLogFile(util.ExpandEnvUniversal(cfg.Logging.File)); err != nil {
			return fmt.Errorf("%w: %v", config.ErrConfig, err)
		}
	}
	logging.Logf(logging.Info, "Starting range export (run %s, source %s)", runID, cfg.Source.Type)

	creds, err := loadCredentialsFunc(opts.envFile)
	if err != nil {
		return err
	}
	if !strings.EqualFold(cfg.Source.Type, config.SourceTypeSQLite) {
		if err := creds.Validate(); err != nil {
			return err
		}
	}

	var errorWriter etlio.ErrorWriter
	// Halt stops on the first bad record, so nothing would reach an error file.
	if cfg.ErrorHandling != nil && cfg.ErrorHandling.ErrorFile != "" &&
		!strings.EqualFold(cfg.ErrorHandling.Mode, config.ErrorHandlingModeHalt) {
		csvErrWriter, err := newCSVErrorWriterFunc(cfg.ErrorHandling.ErrorFile)
		if err != nil {
			return fmt.Errorf("failed to create error writer: %w", err)
		}
		errorWriter = csvErrWriter
		defer func() {
			if cerr := errorWriter.Close(); cerr != nil {
				logging.Logf(logging.Error, "Failed to close error writer: %v", cerr)
			}
		}()
		logging.Logf(logging.Info, "Skipped records will be written to: %s", csvErrWriter.Path())
	}

	proc, err := newProcessorFunc(cfg, errorWriter)
	if err != nil {
		return err
	}

	conn, err := connectSourceFunc(ctx, cfg.Source, creds)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := conn.Close(closeCtx); cerr != nil {
			logging.Logf(logging.Error, "Failed to close source connection: %v", cerr)
		}
	}()

	rows, err := conn.FetchRanges(ctx)
	if err != nil {
		return fmt.Errorf("fetch ranges: %w", err)
	}

	summary, convErr := proc.ConvertAndWrite(ctx, rows)
	if cfg.Report != nil && cfg.Report.File != "" {
		if err := newReportWriterFunc(cfg.Report.File).Write(buildReport(runID, summary)); err != nil {
			logging.Logf(logging.Error, "Failed to write run report: %v", err)
			if convErr == nil {
				return fmt.Errorf("write report: %w", err)
			}
		}
	}
	if convErr != nil {
		return fmt.Errorf("convert and write: %w", convErr)
	}

	if summary.DryRun {
		logging.Logf(logging.Info, "DRY RUN: would write %d features to %d shapefile set(s).", summary.Written, len(summary.Files))
	} else {
		logging.Logf(logging.Info, "Wrote %d features to %d shapefile set(s).", summary.Written, len(summary.Files))
	}
	if summary.Skipped > 0 {
		logging.Logf(logging.Warning, "%d records skipped due to conversion errors.", summary.Skipped)
	}
	return nil
}

// loadJobConfig reads the job file. The default path may be absent, in
// which case built-in defaults apply; an explicitly given path must exist.
func loadJobConfig(path string, explicit bool) (*config.JobConfig, error) {
	if _, err := osStatFunc(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file '%s': %w", path, err)
		}
		if explicit {
			logging.Logf(logging.Error, "Config file '%s' not found.", path)
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		logging.Logf(logging.Info, "No job file at '%s', using defaults.", path)
		return config.Default(), nil
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		logging.Logf(logging.Error, "Error loading/validating config '%s': %v", path, err)
		return nil, err
	}
	logging.Logf(logging.Info, "Loaded job file: %s", path)
	return cfg, nil
}

func buildReport(runID string, s processor.WriteSummary) etlio.RunReport {
	r := etlio.RunReport{
		RunID:      runID,
		Fetched:    s.Fetched,
		Written:    s.Written,
		Skipped:    s.Skipped,
		Filtered:   s.Filtered,
		Duplicates: s.Duplicates,
		DryRun:     s.DryRun,
	}
	for _, f := range s.Files {
		r.Files = append(r.Files, etlio.ReportFile{Path: f.Path, Features: f.Features})
	}
	for _, f := range s.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		r.Failures = append(r.Failures, etlio.ReportFailure{SID: f.SID, Species: f.Species, Error: msg})
	}
	return r
}
