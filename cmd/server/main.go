package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiliankoe/quipdash/internal/chat"
	"github.com/kiliankoe/quipdash/internal/chat/memory"
	"github.com/kiliankoe/quipdash/internal/command"
	"github.com/kiliankoe/quipdash/internal/config"
	"github.com/kiliankoe/quipdash/internal/game"
	"github.com/kiliankoe/quipdash/internal/pack"
	"github.com/kiliankoe/quipdash/internal/storage/sqlite"
	"github.com/kiliankoe/quipdash/internal/ws"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "dev" // Set at build time via -ldflags

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
		envFile     = flag.String("env-file", ".env", "Path to a .env file to load")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`Quipdash - Party game sessions over chat

Usage: %s [options]

Options:
  -h, --help        Show this help message
  -v, --version     Show version information
  --port PORT       Port to listen on (default: 8080 or PORT env var)
  --env-file PATH   Load environment variables from PATH (default: .env)

Environment Variables:
  PORT                Port to listen on (default: 8080)
  PREFIX              Command prefix (default: q!)
  PACKS_DIR           Directory with additional *.json prompt packs (default: ./prompts)
  DEFAULT_PACK        Pack used when none is given (default: default)
  CATEGORY_PREFIX     Name prefix of game categories (default: quipdash-)
  ARCHIVE_PATH        SQLite file finished games are stored in, empty to disable
  EXPORT_ENABLED      Export game results to file (default: true)
  EXPORT_FILE         Path to export game results (default: ./quipdash-results.txt)
  LOG_LEVEL           trace, debug, info, warn or error (default: info)
  ROUNDS              Round sequence as prompts:duration:multiplier,...
                      (default: 2:90s:1,2:90s:2,1:60s:3)

Examples:
  %s                  Start server with default settings
  %s --port 3000      Start server on port 3000

Visit http://localhost:8080 after starting the server.
`, os.Args[0], os.Args[0], os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("Quipdash %s\n", version)
		return
	}

	zerolog.TimeFieldFormat = time.RFC3339
	cw := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = log.Output(cw)

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatal().Err(err).Str("file", *envFile).Msg("load env file")
	}
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	packs, err := pack.Builtin()
	if err != nil {
		return fmt.Errorf("load builtin packs: %w", err)
	}
	if err := packs.LoadDir(cfg.PacksDir); err != nil {
		return fmt.Errorf("load packs from %s: %w", cfg.PacksDir, err)
	}
	if _, err := packs.Get(cfg.DefaultPack); err != nil {
		return fmt.Errorf("default pack %q: %w", cfg.DefaultPack, err)
	}
	log.Info().Int("packs", packs.Len()).Msg("prompt packs loaded")

	hub := memory.NewHub(chat.User{ID: "quipdash", Name: cfg.BotName})
	if _, err := hub.CreateChannel(ctx, "", "lobby"); err != nil {
		return fmt.Errorf("create lobby: %w", err)
	}

	registry := game.NewRegistry()
	gameDeps := game.Deps{
		Platform:       hub,
		Registry:       registry,
		Config:         cfg.Game,
		CategoryPrefix: cfg.CategoryPrefix,
	}
	if cfg.ExportEnabled {
		gameDeps.ExportFile = cfg.ExportFile
	}

	var store *sqlite.Store
	if cfg.ArchivePath != "" {
		store, err = sqlite.Open(cfg.ArchivePath)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("close archive")
			}
		}()
		gameDeps.Archive = store
		log.Info().Str("path", cfg.ArchivePath).Msg("game archive opened")
	}

	deps := command.Deps{
		Prefix:      cfg.Prefix,
		DefaultPack: cfg.DefaultPack,
		Version:     version,
		Packs:       packs,
		Game:        gameDeps,
	}
	rd := routerDeps{
		Registry: registry,
		Packs:    packs,
		Version:  version,
		Started:  time.Now(),
	}
	if store != nil {
		deps.Stats = store
		rd.Archive = store
	}
	dispatcher := command.New(deps)
	go dispatcher.Run(ctx)

	r := newRouter(rd)
	sock := ws.New(hub)
	io := sock.Mount(r)
	defer io.Close()
	mountStatic(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("prefix", cfg.Prefix).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Int("games", registry.Len()).Msg("shutting down")
	for _, g := range registry.Games() {
		g.EndGame()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
