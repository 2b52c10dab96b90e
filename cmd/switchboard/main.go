package main

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hpungsan/switchboard/internal/config"
	"github.com/hpungsan/switchboard/internal/db"
	"github.com/hpungsan/switchboard/internal/mcp"
	"github.com/hpungsan/switchboard/internal/ops"
	"github.com/hpungsan/switchboard/internal/remote"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// tokenEnv names the environment variable holding the remote API token.
const tokenEnv = "SWITCHBOARD_REMOTE_TOKEN"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"capability": true, "channel": true, "links": true,
	"state": true, "toggle": true, "sync": true, "refresh": true,
	"serve": true,
	"help":  true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	// Known subcommand → CLI
	if cliCommands[arg] {
		return true
	}
	// --help or --version → CLI
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___        _ _      _    _                       _
  / __|_ __ _(_) |_ __| |_ | |__  ___  __ _ _ _ __| |
  \__ \ V  V / |  _/ _| ' \| '_ \/ _ \/ _' | '_/ _' |
  |___/\_/\_/|_|\__\__|_||_|_.__/\___/\__,_|_| \__,_|

  Assistant capability switchboard

  Usage: switchboard <command> [options]
         switchboard --help

  MCP server mode requires piped input.`)
}

// loadEnv reads secrets from baseDir/.env into the process environment.
// Variables already set win; a missing file is not an error.
func loadEnv(baseDir string) error {
	err := godotenv.Load(filepath.Join(baseDir, ".env"))
	if err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// newRemote selects the remote platform adapter. Without a configured base
// URL the in-memory remote is used.
func newRemote(cfg *config.Config, logger *slog.Logger) remote.Source {
	if cfg.RemoteBaseURL == "" {
		logger.Warn("remote_base_url not set, using in-memory remote")
		return remote.NewMemory()
	}
	return remote.NewClient(cfg.RemoteBaseURL, os.Getenv(tokenEnv), cfg.RemoteTimeout(), logger)
}

// warnUnknownDisabled reports disabled tool or type names the MCP server does not know.
func warnUnknownDisabled(cfg *config.Config) {
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "warning: unknown disabled_tools: %s\n", strings.Join(unknown, ", "))
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "warning: unknown disabled_types: %s\n", strings.Join(unknown, ", "))
	}
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Logs go to stderr; stdout carries JSON output and the MCP transport.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, ".switchboard")

	if err := loadEnv(baseDir); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	svc := ops.New(db.NewStore(database), newRemote(cfg, logger), cfg, ops.Options{Logger: logger})

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(svc)
		err := app.Run(os.Args)
		svc.Wait()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			database.Close()
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'switchboard --help' for usage.\n")
		database.Close()
		os.Exit(1)
	}

	// MCP server mode (default)
	warnUnknownDisabled(cfg)
	if err := mcp.Run(svc, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		database.Close()
		os.Exit(1)
	}
}
