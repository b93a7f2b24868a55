package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/reviewd-dev/reviewd/internal/loadtest"
)

// Default configuration constants.
const (
	defaultNumSubmissions   = 1000
	defaultDuplicatePercent = 20
	defaultWorkers          = 2 // multiplier for runtime.NumCPU()
	defaultTimeout          = 30 * time.Second
	defaultPollTimeout      = 2 * time.Minute
	defaultTestTimeout      = 10 * time.Minute
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:8080", "Base URL of the service")
		submissions = flag.Int("submissions", defaultNumSubmissions, "Number of code submissions to generate and send")
		duplicates  = flag.Int("duplicates", defaultDuplicatePercent, "Percentage of submissions reusing earlier code")
		workers     = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent workers")
		timeout     = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		pollTimeout = flag.Duration("poll", defaultPollTimeout, "How long to wait for reviews to finish")
		outputFile  = flag.String("output", "", "Output file for generated submissions (default: submissions_TIMESTAMP.json)")
		logFile     = flag.String("log", "", "Log file for test output (default: loadtest_TIMESTAMP.log)")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		help        = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadtest.ShowHelp()
		return
	}

	// Setup logging
	if err := loadtest.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	// Create test configuration
	config := &loadtest.Config{
		BaseURL:          *baseURL,
		NumSubmissions:   *submissions,
		DuplicatePercent: *duplicates,
		Workers:          *workers,
		Timeout:          *timeout,
		PollTimeout:      *pollTimeout,
		OutputFile:       *outputFile,
		LogFile:          *logFile,
		Verbose:          *verbose,
	}

	// Run the test
	if err := loadtest.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Load test failed: " + err.Error() + "\n")
		return
	}
}
