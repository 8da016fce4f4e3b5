package config

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"proof-vault/logging"
	"proof-vault/service"
	"proof-vault/storage"
)

const envPrefix = "PROOF_VAULT_"

// Config is the process configuration. Flags override environment variables,
// which override built-in defaults.
type Config struct {
	Port       int
	StorageDir string
	Store      string
	Codec      string

	Redis storage.RedisOptions
	Mongo storage.MongoOptions

	KafkaBrokers []string
	KafkaTopic   string

	Log     logging.Options
	Service service.Config
}

// Load reads an optional .env file, then parses args (without the program name).
func Load(args []string) (*Config, error) {
	// Load doesn't overwrite variables already set in the environment
	_ = godotenv.Load(".env")

	def := service.DefaultConfig()
	cfg := &Config{}
	fs := flag.NewFlagSet("proof-vault", flag.ContinueOnError)

	fs.IntVar(&cfg.Port, "port", envInt("PORT", 8080), "Server port")
	fs.StringVar(&cfg.StorageDir, "storage", envString("STORAGE_DIR", "data"), "Directory for the file store")
	fs.StringVar(&cfg.Store, "store", envString("STORE", "file"), "Persistence backend (file|memory|redis|mongo)")
	fs.StringVar(&cfg.Codec, "codec", envString("CODEC", "json"), "Record encoding (json|cbor)")

	fs.StringVar(&cfg.Redis.Addr, "redis-addr", envString("REDIS_ADDR", "localhost:6379"), "Redis address")
	fs.StringVar(&cfg.Redis.Password, "redis-password", envString("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.Redis.DB, "redis-db", envInt("REDIS_DB", 0), "Redis database")
	fs.StringVar(&cfg.Redis.KeyPrefix, "redis-prefix", envString("REDIS_PREFIX", "proof-vault"), "Redis key prefix")

	fs.StringVar(&cfg.Mongo.URI, "mongo-uri", envString("MONGO_URI", "mongodb://localhost:27017"), "MongoDB connection URI")
	fs.StringVar(&cfg.Mongo.Database, "mongo-db", envString("MONGO_DB", "proof_vault"), "MongoDB database")
	fs.StringVar(&cfg.Mongo.Collection, "mongo-collection", envString("MONGO_COLLECTION", "vault"), "MongoDB collection")

	var brokers string
	fs.StringVar(&brokers, "kafka-brokers", envString("KAFKA_BROKERS", ""), "Comma separated Kafka brokers; empty disables fallback events")
	fs.StringVar(&cfg.KafkaTopic, "kafka-topic", envString("KAFKA_TOPIC", "proof.fallback.v1"), "Topic for fallback events")

	fs.StringVar(&cfg.Log.Level, "log-level", envString("LOG_LEVEL", "info"), "Log level")
	fs.StringVar(&cfg.Log.FilePath, "log-file", envString("LOG_FILE", ""), "Rotated log file, in addition to stdout")
	fs.BoolVar(&cfg.Log.Development, "dev", envBool("DEV", false), "Human readable console logs")

	svc := &cfg.Service
	*svc = def
	fs.IntVar(&svc.ReplayWindow, "replay-window", envInt("REPLAY_WINDOW", def.ReplayWindow), "Ledger entries checked for replayed proofs")
	fs.Float64Var(&svc.DesyncThreshold, "desync-threshold", envFloat("DESYNC_THRESHOLD", def.DesyncThreshold), "Failure percentage that activates fallback")
	fs.DurationVar(&svc.TimestampWindow, "timestamp-window", envDuration("TIMESTAMP_WINDOW", def.TimestampWindow), "Allowed vote/proof timestamp distance")
	fs.IntVar(&svc.LedgerRetention, "ledger-retention", envInt("LEDGER_RETENTION", def.LedgerRetention), "Audit entries kept")
	fs.IntVar(&svc.SnapshotEntries, "snapshot-entries", envInt("SNAPSHOT_ENTRIES", def.SnapshotEntries), "Entries stored with a fallback snapshot")
	fs.IntVar(&svc.ProofIDWidth, "proof-id-width", envInt("PROOF_ID_WIDTH", def.ProofIDWidth), "Hex characters in a proof id")
	fs.StringVar(&svc.DIDPrefix, "did-prefix", envString("DID_PREFIX", def.DIDPrefix), "Required voter identity prefix")
	fs.BoolVar(&svc.RequireSignature, "require-signature", envBool("REQUIRE_SIGNATURE", def.RequireSignature), "Require did:ethr signatures over proof ids")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Log.Component = "proof-vault"
	cfg.KafkaBrokers = splitList(brokers)
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if _, err := storage.NewCodec(cfg.Codec); err != nil {
		return nil, err
	}
	if err := cfg.Service.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %w", err)
	}
	return cfg, nil
}

// OpenStore connects the configured persistence backend.
func (c *Config) OpenStore(ctx context.Context) (storage.Store, error) {
	switch c.Store {
	case "file":
		absPath, err := filepath.Abs(c.StorageDir)
		if err != nil {
			return nil, err
		}
		store, err := storage.NewFileStore(absPath, c.Codec)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "memory":
		return storage.NewMemoryStore(), nil
	case "redis":
		store, err := storage.DialRedis(ctx, c.Redis)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "mongo":
		store, err := storage.DialMongo(ctx, c.Mongo)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store %q", c.Store)
	}
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(envPrefix + key); ok {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(envString(key, "")); err == nil {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(envString(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(envString(key, "")); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(envString(key, "")); err == nil {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
