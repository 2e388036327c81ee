package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fjod/storefront/cart-service/internal/catalog"
	carthttp "github.com/fjod/storefront/cart-service/internal/http"
	"github.com/fjod/storefront/cart-service/internal/poller"
	"github.com/fjod/storefront/cart-service/internal/reconcile"
	"github.com/fjod/storefront/cart-service/internal/service"
	"github.com/fjod/storefront/cart-service/internal/store"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type Config struct {
	HTTPPort          string
	StoreBackend      string
	RedisAddr         string
	RedisPassword     string
	CartTTL           time.Duration
	BadgerDir         string
	MongoURI          string
	MongoDBName       string
	Mongo             store.MongoOptions
	ProductServiceURL string
	KafkaBrokers      []string
	StrictFieldOrder  bool
	SessionCacheSize  int
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		StoreBackend:      getEnv("STORE_BACKEND", "memory"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		BadgerDir:         getEnv("BADGER_DIR", "./data/carts"),
		MongoURI:          getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:       getEnv("MONGO_DB_NAME", "cartdb"),
		ProductServiceURL: getEnv("PRODUCT_SERVICE_URL", "http://localhost:8081"),
		ShutdownTimeout:   10 * time.Second,
	}
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	var err error
	if cfg.StrictFieldOrder, err = strconv.ParseBool(getEnv("CART_STRICT_FIELD_ORDER", "false")); err != nil {
		return nil, fmt.Errorf("CART_STRICT_FIELD_ORDER: %w", err)
	}
	if cfg.SessionCacheSize, err = strconv.Atoi(getEnv("SESSION_CACHE_SIZE", "1024")); err != nil {
		return nil, fmt.Errorf("SESSION_CACHE_SIZE: %w", err)
	}
	if cfg.RequestTimeout, err = time.ParseDuration(getEnv("REQUEST_TIMEOUT", "30s")); err != nil {
		return nil, fmt.Errorf("REQUEST_TIMEOUT: %w", err)
	}
	if cfg.CartTTL, err = time.ParseDuration(getEnv("CART_TTL", "720h")); err != nil {
		return nil, fmt.Errorf("CART_TTL: %w", err)
	}
	if cfg.Mongo.MaxPoolSize, err = strconv.ParseUint(getEnv("MONGO_MAX_POOL_SIZE", "100"), 10, 64); err != nil {
		return nil, fmt.Errorf("MONGO_MAX_POOL_SIZE: %w", err)
	}
	if cfg.Mongo.MinPoolSize, err = strconv.ParseUint(getEnv("MONGO_MIN_POOL_SIZE", "10"), 10, 64); err != nil {
		return nil, fmt.Errorf("MONGO_MIN_POOL_SIZE: %w", err)
	}
	if cfg.Mongo.ConnectTimeout, err = time.ParseDuration(getEnv("MONGO_CONNECT_TIMEOUT", "10s")); err != nil {
		return nil, fmt.Errorf("MONGO_CONNECT_TIMEOUT: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// openStore returns the configured backend and a function releasing it.
func openStore(ctx context.Context, cfg *Config, log *slog.Logger) (store.KeyValueStore, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), func() {}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("redis ping succeeded", "addr", cfg.RedisAddr)
		return store.NewRedisStore(client, cfg.CartTTL, log), func() { client.Close() }, nil

	case "badger":
		kv, err := store.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, nil, err
		}
		log.Info("opened badger store", "dir", cfg.BadgerDir)
		return kv, func() { kv.Close() }, nil

	case "mongo":
		db, err := store.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		kv := store.NewMongoStore(db)
		if err := kv.CreateIndexes(ctx, cfg.CartTTL); err != nil {
			db.Client().Disconnect(ctx)
			return nil, nil, err
		}
		log.Info("connected to mongodb", "uri", cfg.MongoURI, "db", cfg.MongoDBName, "max_pool", cfg.Mongo.MaxPoolSize)
		return kv, func() { db.Client().Disconnect(context.Background()) }, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}
	log := logger.New("cart-service")
	slog.SetDefault(log)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	cfg, err := loadConfig()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open cart store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var opts []reconcile.Option
	if cfg.StrictFieldOrder {
		opts = append(opts, reconcile.WithStrictFieldOrder())
	}
	engine := reconcile.NewEngine(opts...)

	_, watchable := kv.(store.Watcher)
	sessions, err := service.NewSessions(kv, engine, cfg.SessionCacheSize, watchable, log)
	if err != nil {
		log.Error("failed to create session cache", "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	products := catalog.NewSnapshotCache(catalog.NewHTTPClient(cfg.ProductServiceURL, cfg.RequestTimeout, log), kv, log)

	if len(cfg.KafkaBrokers) > 0 {
		p := poller.NewPoller(products, log, cfg.KafkaBrokers...)
		defer p.Close()
		go p.Run(ctx)
		log.Info("consuming catalog events", "brokers", cfg.KafkaBrokers)
	}

	handler := carthttp.NewCartHandler(sessions, products, cfg.RequestTimeout, log)
	router := carthttp.NewRouter(handler, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "cart-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("cart service starting", "port", cfg.HTTPPort, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down cart service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	log.Info("cart service stopped")
}
