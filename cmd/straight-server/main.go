// Command straight-server boots the payment server: it materializes a default
// configuration directory on first start, and otherwise connects the database, applies
// migrations, loads addons and serves until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	_ "github.com/R3E-Network/straight_server/internal/addon/builtin/orderstats"
	"github.com/R3E-Network/straight_server/internal/bootstrap"
	"github.com/R3E-Network/straight_server/internal/config"
	"github.com/R3E-Network/straight_server/internal/server"
)

const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("straight-server", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configDir = fs.String("config-dir", "", "Configuration directory (default $STRAIGHT_CONFIG_DIR or ~/.straight)")
		envFile   = fs.String("env", "", "Optional .env file loaded before startup")
		logOutput = fs.String("log-output", "stdout", "Console log stream: stdout, stderr or none")
		version   = fs.Bool("version", false, "Print the version and exit")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if *version {
		fmt.Fprintln(stdout, server.Version)
		return exitOK
	}

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(stderr, "load env (%s): %v\n", *envFile, err)
			return exitFatal
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bootstrap.New(bootstrap.Options{ConfigDir: *configDir, LogOutput: *logOutput})
	rt, outcome, err := b.Run(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "straight-server: %v\n", err)
		return exitFatal
	}

	if outcome == bootstrap.OutcomeFreshInstall {
		fmt.Fprintf(stdout, "Created a default configuration in %s:\n", b.Dir())
		for _, path := range b.Created() {
			fmt.Fprintf(stdout, "  %s\n", path)
		}
		fmt.Fprintf(stdout, "Review %s and %s, then start straight-server again.\n", config.FileName, config.AddonsFileName)
		return exitOK
	}
	defer func() {
		if err := rt.Close(); err != nil {
			fmt.Fprintf(stderr, "straight-server: shutdown: %v\n", err)
		}
	}()

	log := rt.Log.WithField("boot_id", rt.BootID)
	if err := rt.Server.Run(ctx); err != nil {
		log.WithError(err).Error("server stopped")
		fmt.Fprintf(stderr, "straight-server: %v\n", err)
		return exitFatal
	}

	log.Info("shutting down")
	if err := rt.Server.Shutdown(context.Background()); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}
	return exitOK
}
