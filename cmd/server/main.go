package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"devos/identity/internal/config"
	"devos/identity/internal/db"
	internalhttp "devos/identity/internal/http"
	"devos/identity/internal/identity"
	"devos/identity/internal/oauth"
	"devos/identity/internal/permission"
	"devos/identity/internal/session"
	"devos/identity/internal/store"
	"devos/identity/internal/token"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		subjects store.SubjectStore
		sessions store.SessionStore
		grants   store.GrantStore
	)
	if cfg.DatabaseURL != "" {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connection failed: %v", err)
		}
		defer pool.Close()
		subjects = store.NewPostgresSubjectStore(pool)
		sessions = store.NewPostgresSessionStore(pool)
		grants = store.NewPostgresGrantStore(pool)
		log.Printf("using postgres store")
	} else {
		subjects = store.NewMemorySubjectStore()
		sessions = store.NewMemorySessionStore()
		grants = store.NewMemoryGrantStore()
		log.Printf("using in-memory store")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
	}

	authority, err := token.NewAuthority(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		log.Fatalf("token authority: %v", err)
	}

	resolver := identity.NewResolver(subjects)
	registry := session.NewRegistry(sessions)
	ledger := permission.NewLedger(grants)
	exchanger := oauth.NewClient(
		oauth.ProviderConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		},
		oauth.ProviderConfig{
			ClientID:     cfg.GithubClientID,
			ClientSecret: cfg.GithubClientSecret,
			RedirectURL:  cfg.GithubRedirectURL,
		},
	)

	server := internalhttp.NewServer(cfg, resolver, authority, registry, ledger, exchanger, redisClient)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           corsHandler.Handler(server.Router()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("identity service listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
