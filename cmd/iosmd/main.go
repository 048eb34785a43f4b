// Iosmd is the IOSM daemon.
//
// It serves the iosmd HTTP API (health, Prometheus metrics, per-system status and
// history, run triggers), runs cycles in the background one run per system, and
// optionally publishes engine events to NATS, accepts run triggers from NATS and
// reruns systems when the backlog file changes.
//
// Usage:
//
//	# Start with iosm.yaml from the working directory
//	iosmd
//
//	# Start with another document and port
//	IOSM_SERVER_PORT=9500 iosmd -c /etc/iosm/iosm.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rokoss21/IOSM/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("c", config.DefaultPath, "IOSM configuration file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  iosmd [-c iosm.yaml]   Start the IOSM daemon\n")
			fmt.Fprintf(os.Stderr, "  iosmd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, nil); err != nil {
		log.Fatalf("iosmd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("iosmd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}
