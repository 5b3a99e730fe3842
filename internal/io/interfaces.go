package io

// ErrorWriter defines the interface for writing rows that could not be converted.
type ErrorWriter interface {
	// Write records the raw source row along with the conversion error.
	Write(record map[string]interface{}, processError error) error

	// Close flushes buffered data and releases the file. Implementations should be idempotent.
	Close() error
}

// ReportWriter persists the summary of a finished run.
type ReportWriter interface {
	Write(report RunReport) error
}

// RunReport is what a run hands to a ReportWriter.
type RunReport struct {
	RunID      string
	Fetched    int
	Written    int
	Skipped    int
	Filtered   int
	Duplicates int
	DryRun     bool
	Files      []ReportFile
	Failures   []ReportFailure
}

// ReportFile is one shapefile set written by the run.
type ReportFile struct {
	Path     string
	Features int
}

// ReportFailure is one row left out of the output.
type ReportFailure struct {
	SID     string
	Species string
	Error   string
}
