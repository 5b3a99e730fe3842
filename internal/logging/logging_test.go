package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput points the console at a buffer for the duration of the test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	previous := GetLevel()
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(previous)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"none", None, false},
		{"ERROR", Error, false},
		{"warn", Warning, false},
		{"warning", Warning, false},
		{"Info", Info, false},
		{"debug", Debug, false},
		{"loud", Info, true},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseLevel(tc.input)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantErr, err != nil)
		})
	}
}

func TestSetLevel_Clamps(t *testing.T) {
	previous := GetLevel()
	t.Cleanup(func() { SetLevel(previous) })

	SetLevel(-3)
	assert.Equal(t, None, GetLevel())
	SetLevel(42)
	assert.Equal(t, Debug, GetLevel())
}

func TestLogf_RespectsLevel(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(Warning)

	Logf(Info, "hidden %d", 1)
	Logf(Debug, "hidden %d", 2)
	Logf(Warning, "shown %s", "warn")
	Logf(Error, "shown %s", "error")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown warn")
	assert.Contains(t, out, "shown error")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "ERROR")
}

func TestLogf_NoneSilencesEverything(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(None)

	Logf(Error, "should not appear")
	assert.Empty(t, buf.String())
}

func TestSetupLogging_InvalidFallsBackToInfo(t *testing.T) {
	captureOutput(t)
	assert.Equal(t, Info, SetupLogging("verbose"))
	assert.Equal(t, Info, GetLevel())
}

func TestSetLogFile_WritesJSONWithRunID(t *testing.T) {
	captureOutput(t)
	SetLevel(Info)
	SetRunID("run-123")
	t.Cleanup(func() { SetRunID("") })

	path := filepath.Join(t.TempDir(), "logs", "data-pipeline.log")
	require.NoError(t, SetLogFile(path))
	Logf(Info, "Fetched %d ranges", 3)
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Fetched 3 ranges", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "run-123", entry["run_id"])
}
