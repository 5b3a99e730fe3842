package config

import (
	"fmt"
	"strings"

	"range-export/internal/logging"

	"github.com/Knetic/govaluate"
)

// Define known valid enum values for configuration fields.
var (
	knownLogLevels    = []string{"none", "error", "warn", "warning", "info", "debug"}
	knownSourceTypes  = []string{SourceTypePostgres, SourceTypeSQLite}
	knownPartitions   = []string{PartitionNone, PartitionSpecies, PartitionThreshold, PartitionScenario}
	knownErrorModes   = []string{ErrorHandlingModeHalt, ErrorHandlingModeSkip}
	knownRecordFields = []string{"sid", "species", "species_id", "threshold", "source", "scenario", "year", "area"}
)

// isValidEnumValue checks if a value is present in a list of allowed string values (case-insensitive).
func isValidEnumValue(value string, allowedValues []string) bool {
	lowerValue := strings.ToLower(value)
	for _, allowed := range allowedValues {
		if lowerValue == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// ValidateConfig checks the whole job configuration and reports every problem at once.
func ValidateConfig(cfg *JobConfig) error {
	var allErrors []string

	if !isValidEnumValue(cfg.Logging.Level, knownLogLevels) {
		allErrors = append(allErrors, fmt.Sprintf("- Config.Logging.Level: invalid log level '%s', must be one of %v", cfg.Logging.Level, knownLogLevels))
	}

	allErrors = append(allErrors, validateSourceConfig("Config.Source", &cfg.Source)...)
	allErrors = append(allErrors, validateOutputConfig("Config.Output", &cfg.Output)...)

	if cfg.Filter != "" {
		if _, err := govaluate.NewEvaluableExpression(cfg.Filter); err != nil {
			allErrors = append(allErrors, fmt.Sprintf("- Config.Filter: invalid expression syntax: %v", err))
		}
	}

	if cfg.Dedup != nil {
		allErrors = append(allErrors, validateDedupConfig("Config.Dedup", cfg.Dedup)...)
	}

	if cfg.ErrorHandling != nil {
		allErrors = append(allErrors, validateErrorHandlingConfig("Config.ErrorHandling", cfg.ErrorHandling)...)
	}

	if cfg.Report != nil && strings.TrimSpace(cfg.Report.File) == "" {
		allErrors = append(allErrors, "- Config.Report.File: file is required when report is configured")
	}

	if len(allErrors) > 0 {
		return fmt.Errorf("%w: configuration validation failed:\n%s", ErrConfig, strings.Join(allErrors, "\n"))
	}
	logging.Logf(logging.Debug, "Configuration validation successful.")
	return nil
}

func validateSourceConfig(prefix string, cfg *SourceConfig) []string {
	var errs []string
	if !isValidEnumValue(cfg.Type, knownSourceTypes) {
		errs = append(errs, fmt.Sprintf("- %s.Type: invalid source type '%s', must be one of %v", prefix, cfg.Type, knownSourceTypes))
		return errs
	}
	if strings.EqualFold(cfg.Type, SourceTypeSQLite) && strings.TrimSpace(cfg.File) == "" {
		errs = append(errs, fmt.Sprintf("- %s.File: file is required for source type '%s'", prefix, SourceTypeSQLite))
	}
	if strings.EqualFold(cfg.Type, SourceTypePostgres) && cfg.File != "" {
		logging.Logf(logging.Warning, "Validation: %s.File is ignored for source type '%s'", prefix, SourceTypePostgres)
	}
	if cfg.Query == "" && !isIdentifier(cfg.Table) {
		errs = append(errs, fmt.Sprintf("- %s.Table: '%s' is not a valid table name", prefix, cfg.Table))
	}
	if cfg.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Sprintf("- %s.TimeoutSeconds: must not be negative", prefix))
	}
	return errs
}

func validateOutputConfig(prefix string, cfg *OutputConfig) []string {
	var errs []string
	if strings.TrimSpace(cfg.Dir) == "" {
		errs = append(errs, fmt.Sprintf("- %s.Dir: output directory is required", prefix))
	}
	if strings.ContainsAny(cfg.Prefix, `/\`) || cfg.Prefix == "." || cfg.Prefix == ".." {
		errs = append(errs, fmt.Sprintf("- %s.Prefix: '%s' must be a file name, not a path", prefix, cfg.Prefix))
	}
	if !isValidEnumValue(cfg.PartitionBy, knownPartitions) {
		errs = append(errs, fmt.Sprintf("- %s.PartitionBy: invalid value '%s', must be one of %v", prefix, cfg.PartitionBy, knownPartitions))
	}
	return errs
}

func validateDedupConfig(prefix string, cfg *DedupConfig) []string {
	var errs []string
	if len(cfg.Keys) == 0 {
		errs = append(errs, fmt.Sprintf("- %s.Keys: at least one key field is required", prefix))
	}
	for i, key := range cfg.Keys {
		if !isValidEnumValue(key, knownRecordFields) {
			errs = append(errs, fmt.Sprintf("- %s.Keys[%d]: unknown field '%s', must be one of %v", prefix, i, key, knownRecordFields))
		}
	}
	return errs
}

func validateErrorHandlingConfig(prefix string, cfg *ErrorHandlingConfig) []string {
	var errs []string
	if !isValidEnumValue(cfg.Mode, knownErrorModes) {
		errs = append(errs, fmt.Sprintf("- %s.Mode: invalid error handling mode '%s', must be one of %v", prefix, cfg.Mode, knownErrorModes))
	}

	if strings.EqualFold(cfg.Mode, ErrorHandlingModeHalt) && cfg.ErrorFile != "" {
		logging.Logf(logging.Warning, "Validation: %s.ErrorFile is specified but will be ignored when mode is '%s'", prefix, ErrorHandlingModeHalt)
	}
	if cfg.ErrorFile != "" && (strings.HasSuffix(cfg.ErrorFile, "/") || strings.HasSuffix(cfg.ErrorFile, "\\")) {
		errs = append(errs, fmt.Sprintf("- %s.ErrorFile: path '%s' appears to be a directory, not a file", prefix, cfg.ErrorFile))
	}
	return errs
}

// isIdentifier accepts plain or schema-qualified SQL identifiers.
func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return false
		}
		for i, r := range part {
			switch {
			case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9' && i > 0:
			default:
				return false
			}
		}
	}
	return true
}
