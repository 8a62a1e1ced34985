package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"paymentflow/db"
	"paymentflow/flow"
	"paymentflow/gateway"
	"paymentflow/gateway/hosted"
	"paymentflow/ops"
	"paymentflow/refdoc"
	"paymentflow/session"
	"paymentflow/web"
)

func main() {
	_ = godotenv.Load()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Error("bootstrap database pool", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	var locker session.Locker
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		locker = session.NewRedisLocker(redis.NewClient(&redis.Options{Addr: addr}))
		log.Info("session locking via redis", "addr", addr)
	} else {
		locker = session.NewPGLocker(pool)
		log.Info("session locking via postgres advisory locks")
	}

	gateways := gateway.NewRegistry()
	registerHosted(gateways)

	// Reference document integrations register here as they are built.
	refdocs := refdoc.NewRegistry()

	sessions := session.NewRepository(pool)

	flows := flow.NewService(sessions, locker, gateways, refdocs, baseURL())
	flows.SetLogger(log)
	if email := os.Getenv("SUPPORT_EMAIL"); email != "" {
		flows.SetSupportEmail(email)
	}

	opsService := ops.NewService(ops.NewRepository(pool), sessions, os.Getenv("JWT_SECRET"))
	if email := os.Getenv("OPS_ADMIN_EMAIL"); email != "" {
		name := os.Getenv("OPS_ADMIN_NAME")
		if name == "" {
			name = "Administrator"
		}
		if err := opsService.EnsureAdmin(ctx, email, name, os.Getenv("OPS_ADMIN_PASSWORD")); err != nil {
			log.Error("seeding admin operator", "err", err)
			os.Exit(1)
		}
	}

	server := web.NewServer(flows, opsService)
	server.SetLogger(log)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Info("payment session service listening", "addr", addr)
	if err := server.Run(addr); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func baseURL() string {
	if u := os.Getenv("BASE_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8080"
}

// registerHosted wires the hosted-checkout gateway when a merchant account is
// configured.
func registerHosted(registry *gateway.Registry) {
	merchantID := os.Getenv("HOSTED_MERCHANT_ID")
	if merchantID == "" {
		return
	}

	cfg := hosted.Config{
		BaseURL:    strings.TrimRight(os.Getenv("HOSTED_BASE_URL"), "/"),
		MerchantID: merchantID,
		SecretKey:  os.Getenv("HOSTED_SECRET_KEY"),
	}
	if currencies := os.Getenv("HOSTED_CURRENCIES"); currencies != "" {
		cfg.SupportedCurrencies = strings.Split(currencies, ",")
	}

	adapter := hosted.New(cfg)
	registry.Register("Hosted Checkout Settings", adapter.FrontendDefaults(), func(string) (gateway.Adapter, error) {
		return adapter, nil
	})
}
