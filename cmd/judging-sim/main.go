package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/Khushwant-Singh1/HackOps/internal/judgingsim"
)

const defaultRunTimeout = 10 * time.Minute

func main() {
	cfg := judgingsim.DefaultConfig()
	flag.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "Base URL of the service")
	flag.StringVar(&cfg.EventID, "event", cfg.EventID, "Event id")
	flag.IntVar(&cfg.Round, "round", cfg.Round, "Round to judge")
	flag.IntVar(&cfg.Judges, "judges", cfg.Judges, "Judges to register")
	flag.IntVar(&cfg.Submissions, "submissions", cfg.Submissions, "Submissions to register")
	flag.IntVar(&cfg.CoverageMin, "coverage-min", cfg.CoverageMin, "Judges wanted per submission")
	flag.IntVar(&cfg.CoverageMax, "coverage-max", cfg.CoverageMax, "Judges allowed per submission")
	flag.IntVar(&cfg.LoadMax, "load-max", cfg.LoadMax, "Submissions per judge")
	flag.Float64Var(&cfg.Corrections, "corrections", cfg.Corrections, "Share of scores corrected with a stale version")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent scoring workers")
	flag.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	flag.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Seed for score values")
	flag.StringVar(&cfg.OutputFile, "output", "", "Write a JSON report to this file")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	logFile := flag.String("log", "", "Also write logs to this file")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help {
		judgingsim.ShowHelp()
		return
	}
	if err := judgingsim.SetupLogging(*logFile, cfg.Verbose); err != nil {
		_, _ = os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	_, err := judgingsim.Run(ctx, &cfg)
	cancel()
	if err != nil {
		_, _ = os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
