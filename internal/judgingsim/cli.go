package judgingsim

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/Khushwant-Singh1/HackOps/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging logs to stdout and, when logFile is set, to that file too.
func SetupLogging(logFile string, verbose bool) error {
	var out io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
		if err != nil {
			return fmt.Errorf("failed to create log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, file)
	}
	if err := logger.Init(logger.Options{Writer: out}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	log.SetOutput(out)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return nil
}

// DefaultConfig returns a small round that fits every judge at least twice.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:9080",
		EventID:     "sim-" + time.Now().UTC().Format("20060102-150405"),
		Round:       1,
		Judges:      12,
		Submissions: 30,
		CoverageMin: 3,
		CoverageMax: 4,
		LoadMax:     10,
		Corrections: 0.1,
		Workers:     8,
		Timeout:     30 * time.Second,
		Seed:        1,
	}
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`HackOps Judging Simulator
=========================

Registers judges and submissions, generates assignments, scores them
concurrently, locks the round and verifies the ranking.

Usage:
  go run ./cmd/judging-sim [options]

Options:
  -url string        Base URL of the service (default "http://localhost:9080")
  -event string      Event id (default sim-TIMESTAMP)
  -judges int        Judges to register (default 12)
  -submissions int   Submissions to register (default 30)
  -coverage-min int  Judges wanted per submission (default 3)
  -coverage-max int  Judges allowed per submission (default 4)
  -load-max int      Submissions per judge (default 10)
  -corrections float Share of scores corrected with a stale version (default 0.1)
  -workers int       Concurrent scoring workers (default 8)
  -seed uint         Seed for score values (default 1)
  -output string     Write a JSON report to this file
  -log string        Also write logs to this file
  -verbose           Enable verbose logging
  -help              Show this help message
`)
}
