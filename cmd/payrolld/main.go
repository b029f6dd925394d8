package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/punchclock/engine/internal/alerts"
	"github.com/punchclock/engine/internal/auth"
	"github.com/punchclock/engine/internal/directory"
	"github.com/punchclock/engine/internal/gateway"
	"github.com/punchclock/engine/internal/payroll"
	"github.com/punchclock/engine/internal/signer"
	"github.com/punchclock/engine/internal/store"
	"github.com/punchclock/engine/pkg/messaging"
)

func main() {
	port := envOr("PORT", "8080")
	dbURL := os.Getenv("DATABASE_URL")
	natsURL := os.Getenv("NATS_URL")
	redisURL := os.Getenv("REDIS_URL")
	jwtSecret := envOr("JWT_SECRET", "dev-secret")
	operatorUser := envOr("OPERATOR_USER", "admin")
	operatorPass := envOr("OPERATOR_PASSWORD", "admin")

	owner, err := signer.ParseIdentity(envOr("OWNER_IDENTITY", ""))
	if err != nil {
		log.Fatalf("OWNER_IDENTITY is required: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := payroll.Config{
		Owner: owner,
		Grace: time.Duration(envInt("GRACE_SECONDS", 900)) * time.Second,
	}

	if dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		journal := store.New(db)
		if err := journal.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate journal: %v", err)
		}
		cfg.Journal = journal
	}

	var msgClient *messaging.Client
	if natsURL != "" {
		msgClient, err = messaging.NewClient(messaging.Config{
			URL:           natsURL,
			Name:          "payrolld",
			ReconnectWait: time.Second,
			MaxReconnects: 5,
		})
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer msgClient.Close()
		cfg.Publisher = msgClient
	}

	acl := directory.NewWhitelist(owner)
	dir := directory.New(acl)
	engine := payroll.NewEngine(dir, cfg)

	authService := auth.NewService(jwtSecret, 24*time.Hour, map[string]string{
		operatorUser: auth.HashPassword(operatorPass),
	})

	gwCfg := gateway.Config{Auth: authService}
	if redisURL != "" {
		gwCfg.Cache = gateway.NewSessionCache(redisURL, 5*time.Second)
	}
	if msgClient != nil {
		hub := gateway.NewEventHub()
		if err := hub.Listen(msgClient); err != nil {
			log.Fatalf("Failed to start event feed: %v", err)
		}
		gwCfg.Hub = hub

		floor := decimal.NewFromInt(envInt("LOW_BALANCE_FLOOR", 0))
		if floor.IsPositive() {
			watcher := alerts.NewWatcher(floor, func(a alerts.Alert) {
				log.Printf("Low balance: available %s under floor %s", a.Available, a.Floor)
			})
			if err := watcher.Listen(msgClient); err != nil {
				log.Fatalf("Failed to start balance watcher: %v", err)
			}
		}
	}

	gw := gateway.New(engine, gwCfg)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("payrolld listening on :%s", port)
		return gw.Start(":" + port)
	})

	// Reclaim abandoned sessions once their channels expire.
	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(envInt("SWEEP_INTERVAL_SECONDS", 30)) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if n := engine.SweepExpired(ctx); n > 0 {
					log.Printf("Swept %d expired sessions", n)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("payrolld exited: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
