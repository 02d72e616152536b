// Command bot runs the gate: the Telegram front-end that confirms wiki
// accounts and keeps group restrictions in line with confirmation state,
// plus a small HTTP surface for the link callback, health, metrics, and
// read-only record inspection.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avecha/wikigate/internal/config"
	httpapi "github.com/avecha/wikigate/internal/http"
	"github.com/avecha/wikigate/internal/identity"
	"github.com/avecha/wikigate/internal/linker"
	"github.com/avecha/wikigate/internal/mediawiki"
	"github.com/avecha/wikigate/internal/observability"
	"github.com/avecha/wikigate/internal/repo"
	"github.com/avecha/wikigate/internal/services"
	"github.com/avecha/wikigate/internal/store"
	"github.com/avecha/wikigate/internal/sysutil"
	"github.com/avecha/wikigate/internal/telegram"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Msg("starting wikigate")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	// Persistence: SQLite snapshot of the record collection.
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate failed")
	}
	if err := repo.MigrateLegacyWhitelist(ctx, db, cfg.PrimaryGroup); err != nil {
		log.Fatal().Err(err).Msg("legacy whitelist migration failed")
	}

	st := store.New(repo.NewSnapshot(db))
	if err := st.Load(ctx); err != nil {
		// Starting with an empty record set would let restricted users back
		// in, so a load failure is fatal.
		log.Fatal().Err(err).Msg("record load failed")
	}
	log.Info().Int("records", st.Len()).Msg("records loaded")

	// Identity: MediaWiki eligibility checks behind the link registry.
	links := linker.New(cfg.LinkTTL)
	wiki := &mediawiki.Client{
		APIURL:        cfg.WikiAPIURL,
		UserAgent:     "wikigate/" + version,
		Wikis:         cfg.WikiList,
		MinEditCount:  cfg.MinEditCount,
		MinAccountAge: cfg.MinAccountAge,
	}
	verifier := identity.NewVerifier(wiki, links)

	// Telegram: bot API, moderation, and command front-end.
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram auth failed")
	}
	bot.Debug = sysutil.IsTruthy(os.Getenv("BOT_DEBUG"))
	log.Info().Str("username", bot.Self.UserName).Msg("telegram authorized")

	reconciler := services.NewReconciler(telegram.NewModerator(bot))
	gate := services.NewGateService(st, verifier, reconciler, cfg.GatedGroups)
	handler := telegram.NewHandler(bot, gate, links, telegram.Options{
		Groups:     cfg.GatedGroups,
		AdminUsers: cfg.AdminUsers,
		LogChannel: cfg.LogChannel,
	})

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 60
	updates := bot.GetUpdatesChan(updateCfg)

	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		handler.Run(ctx, updates)
	}()

	// HTTP: link callback, health, metrics, read-only inspection.
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	httpapi.RegisterRoutes(router, st, gate, links, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	bot.StopReceivingUpdates()
	<-botDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown failed")
	}
	log.Info().Msg("bye")
}
