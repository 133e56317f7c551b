package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Rnbprasad1/ChatSupport/internal/app"
	"github.com/Rnbprasad1/ChatSupport/internal/archive"
	"github.com/Rnbprasad1/ChatSupport/internal/auth"
	"github.com/Rnbprasad1/ChatSupport/internal/chat"
	"github.com/Rnbprasad1/ChatSupport/internal/config"
	"github.com/Rnbprasad1/ChatSupport/internal/docstore"
	"github.com/Rnbprasad1/ChatSupport/internal/search"
	"github.com/Rnbprasad1/ChatSupport/internal/session"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	cfg := config.Load()
	ctx := context.Background()

	db, err := docstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := docstore.EnsureSchema(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("schema setup failed")
	}
	store := docstore.NewPostgresStore(db, cfg.PollInterval)

	var sessions *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		sessions, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer sessions.Close()
	}

	authProvider := buildAuthProvider(cfg, sessions)
	if authProvider == nil {
		log.Warn().Msg("admin password not set, admin routes disabled")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient)

	var archiver chat.Archiver
	if strings.TrimSpace(cfg.ArchiveEndpoint) != "" {
		minioArchiver, err := archive.NewMinioArchiver(ctx, archive.Config{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("archive storage setup failed")
		}
		archiver = minioArchiver
	}

	chats := chat.NewService(store, archiver)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go watchRoster(watchCtx, chats, searchService)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(chats, authProvider, searchService, readiness(db, sessions), cfg.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("chat support API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

// buildAuthProvider assembles admin sign-in from config. Admin routes stay off
// unless both a password and a session backend are available.
func buildAuthProvider(cfg config.Config, sessions *session.RedisStore) *auth.Provider {
	if strings.TrimSpace(cfg.AdminPassword) == "" || sessions == nil {
		return nil
	}
	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("admin password hash failed")
	}
	return auth.NewProvider([]auth.Credential{
		{Email: cfg.AdminEmail, Name: cfg.AdminName, PasswordHash: hash},
	}, sessions, cfg.SessionTTL)
}

// watchRoster feeds every roster snapshot into the search service so the
// index (or its in-memory fallback) tracks live chat state. The subscription
// is reopened on failure.
func watchRoster(ctx context.Context, chats *chat.Service, searchService *search.Service) {
	for {
		sub, err := chats.SubscribeRoster(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("roster watch: subscribe failed, retrying")
			select {
			case <-time.After(5 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		func() {
			defer sub.Cancel()
			for {
				select {
				case roster, ok := <-sub.Snapshots:
					if !ok {
						return
					}
					records := make([]search.ChatRecord, 0, len(roster))
					for _, c := range roster {
						records = append(records, search.ChatRecord{
							ID:          c.ID,
							UserName:    c.UserName,
							Reference:   c.Reference,
							Mobile:      c.Mobile,
							SupportType: c.SupportType,
							Status:      c.Status,
						})
					}
					searchService.Sync(records)
				case err := <-sub.Errors:
					log.Warn().Err(err).Msg("roster watch: subscription error")
				case <-ctx.Done():
					return
				}
			}
		}()

		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		}
	}
}

func readiness(db *sql.DB, sessions *session.RedisStore) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if sessions != nil {
			return sessions.Ping(ctx)
		}
		return nil
	}
}
