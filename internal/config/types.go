package config

// Define constants for configuration keys, types, modes etc.
const (
	SourceTypePostgres = "postgres"
	SourceTypeSQLite   = "sqlite"

	PartitionNone      = ""
	PartitionSpecies   = "species"
	PartitionThreshold = "threshold"
	PartitionScenario  = "scenario"

	ErrorHandlingModeHalt = "halt" // Stop on the first record that cannot be converted
	ErrorHandlingModeSkip = "skip" // Log the record, leave it out of the output and continue

	DefaultLogLevel       = "info"
	DefaultConfigFile     = "config/range-export.yaml"
	DefaultSourceType     = SourceTypePostgres
	DefaultSourceTable    = "speciesdata"
	DefaultOutputDir      = "output"
	DefaultOutputPrefix   = "species_ranges"
	DefaultTimeoutSeconds = 60
	DefaultErrorMode      = ErrorHandlingModeSkip
)

// JobConfig is the YAML job file. Everything a run needs besides the database
// credentials lives here and is passed explicitly to the components.
type JobConfig struct {
	// Logging controls verbosity and an optional log file.
	Logging LoggingConfig `yaml:"logging"`
	// Source selects the database and the query that yields range rows.
	Source SourceConfig `yaml:"source"`
	// Output is where shapefile sets are written.
	Output OutputConfig `yaml:"output"`
	// Filter is an optional govaluate expression evaluated against each fetched row.
	// Rows for which it evaluates to false are left out before conversion.
	// Example: "threshold >= 50 && scenario == 'current'"
	Filter string `yaml:"filter,omitempty"`
	// Dedup drops rows whose key fields repeat an earlier row. The first row wins.
	Dedup *DedupConfig `yaml:"dedup,omitempty"`
	// ErrorHandling decides what happens to rows with bad geometry or attributes.
	ErrorHandling *ErrorHandlingConfig `yaml:"errorHandling,omitempty"`
	// Report optionally writes an XLSX summary of the run.
	Report *ReportConfig `yaml:"report,omitempty"`
	// DryRun fetches and converts but writes no shapefiles. Also set by --dry-run.
	DryRun bool `yaml:"dryRun,omitempty"`
}

// LoggingConfig holds settings related to logging verbosity.
type LoggingConfig struct {
	// Level is one of "none", "error", "warn", "info", "debug". Defaults to "info".
	Level string `yaml:"level"`
	// File, when set, receives JSON log lines in addition to stderr.
	File string `yaml:"file,omitempty"`
}

// SourceConfig details the database the ranges are read from.
type SourceConfig struct {
	// Type is "postgres" (default) or "sqlite".
	Type string `yaml:"type"`
	// File is the database file for "sqlite". Environment variables are expanded.
	File string `yaml:"file,omitempty"`
	// Table is queried when Query is empty. Defaults to "speciesdata".
	Table string `yaml:"table,omitempty"`
	// Query overrides the generated select. It must return the range columns.
	Query string `yaml:"query,omitempty"`
	// TimeoutSeconds bounds the query. Defaults to 60.
	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty"`
}

// OutputConfig describes where and how shapefile sets are written.
type OutputConfig struct {
	// Dir receives the shapefile sets. Created if missing. Defaults to "output".
	Dir string `yaml:"dir"`
	// Prefix is the base file name. Defaults to "species_ranges".
	Prefix string `yaml:"prefix,omitempty"`
	// PartitionBy splits output into one set per distinct value of
	// "species", "threshold" or "scenario". Empty writes a single set.
	PartitionBy string `yaml:"partitionBy,omitempty"`
}

// DedupConfig lists the record fields that together identify a duplicate.
type DedupConfig struct {
	Keys []string `yaml:"keys"`
}

// ErrorHandlingConfig defines how record-level conversion errors are managed.
type ErrorHandlingConfig struct {
	// Mode is "skip" (default) or "halt".
	Mode string `yaml:"mode"`
	// ErrorFile receives skipped rows and their error as CSV. Environment variables are expanded.
	ErrorFile string `yaml:"errorFile,omitempty"`
}

// ReportConfig configures the XLSX run report.
type ReportConfig struct {
	File string `yaml:"file"`
}
