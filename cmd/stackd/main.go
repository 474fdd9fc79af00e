package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Exit codes.
const (
	ExitSuccess     = 0
	ExitConfigError = 1
	ExitBuildError  = 2
	ExitDockerError = 3
	ExitLedgerError = 4
	ExitServerError = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("stackd", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	showVersion := fs.Bool("version", false, "Show version and exit")
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	if *showVersion {
		fmt.Printf("stackd %s\n", Version)
		return ExitSuccess
	}

	rest := fs.Args()
	if len(rest) == 0 {
		usage()
		return ExitConfigError
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return ExitConfigError
	}

	logger := SetupLogger(cfg)

	switch rest[0] {
	case "build":
		return cmdBuild(cfg, logger, rest[1:])
	case "up":
		return cmdUp(cfg, logger, rest[1:])
	case "down":
		return cmdDown(cfg, logger, rest[1:])
	case "status":
		return cmdStatus(cfg, logger, rest[1:])
	case "logs":
		return cmdLogs(cfg, logger, rest[1:])
	case "devprofile":
		return cmdDevprofile(cfg, logger, rest[1:])
	case "serve":
		return cmdServe(cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", rest[0])
		usage()
		return ExitConfigError
	}
}

func cmdServe(cfg *Config, logger *slog.Logger) int {
	srv, err := NewServer(cfg)
	if err != nil {
		logger.Error("failed to initialize server", "error", err)
		return exitCodeFor(err)
	}
	defer srv.Close()

	if err := srv.Start(); err != nil {
		logger.Error("server error", "error", err)
		return exitCodeFor(err)
	}
	return ExitSuccess
}

// exitCodeFor extracts the exit code carried by a ServerError, falling back
// to the generic server exit code.
func exitCodeFor(err error) int {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.ExitCode
	}
	return ExitServerError
}

func usage() {
	fmt.Fprintf(os.Stderr, `stackd - staged image builds and dependency-ordered stack launches

Usage:
  stackd [flags] <command> [command flags]

Commands:
  build       Build images for services with a build section
  up          Launch the stack in dependency order
  down        Stop and remove the stack (volumes are retained)
  status      Show the state of the stack's containers
  logs        Stream logs for one service
  devprofile  Write a development container profile for the stack
  serve       Run the HTTP API server

Flags:
  -config string   Path to configuration file
  -version         Show version and exit
`)
}
