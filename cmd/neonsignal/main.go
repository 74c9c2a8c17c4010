package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nutsloop/neonsignal/internal/certmgr"
	"github.com/nutsloop/neonsignal/internal/codexrunner"
	"github.com/nutsloop/neonsignal/internal/config"
	"github.com/nutsloop/neonsignal/internal/db"
	"github.com/nutsloop/neonsignal/internal/diagnostics"
	"github.com/nutsloop/neonsignal/internal/mailer"
	"github.com/nutsloop/neonsignal/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	port := flag.Int("port", config.DefaultPort, "port to listen on")
	dbPath := flag.String("db", config.DefaultDBPath, "path to the bolt database file")
	certsRoot := flag.String("certs", config.DefaultCertsRoot, "directory holding per-host certificate bundles")
	wwwRoot := flag.String("www", config.DefaultWWWRoot, "static document root")
	codexCommand := flag.String("codex-command", "", "codex runner executable (empty disables codex runs)")
	mailAgent := flag.String("mail-agent", "", "mail submission agent executable (empty disables mail)")
	flag.Parse()

	cfg, err := config.Load(*port, *dbPath, *certsRoot, *wwwRoot)
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	certMgr := certmgr.New(cfg.CertsRoot)
	if err := certMgr.Initialize(); err != nil {
		slog.Error("failed to load certificates", "error", err)
		os.Exit(1)
	}

	var codexRunner *codexrunner.Runner
	if *codexCommand != "" {
		artifactDir := filepath.Join(cfg.WorkingDir, "data", "codex", "runs")
		codexRunner = codexrunner.New(database, *codexCommand, flag.Args(), artifactDir, 30*time.Minute)
	}

	var mail *mailer.Mailer
	if *mailAgent != "" {
		mail = mailer.New(*mailAgent, nil)
	}

	probe := diagnostics.NewRedirectProbe(cfg.Host, config.DefaultRedirectPort, 2*time.Second)

	app := server.NewApp(cfg, certMgr, database, codexRunner, mail, probe)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	slog.Info("neonsignal listening", "addr", addr, "www", cfg.WWWRoot, "certs", cfg.CertsRoot)

	if err := app.Serve(ctx, addr); err != nil && ctx.Err() == nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}

	slog.Info("neonsignal shut down")
}
