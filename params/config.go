package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type API struct {
	Addr string
}

type Venue struct {
	// Fee schedule in basis points. Covered more fully by fees.Params;
	// these are the knobs operators actually tune.
	TradeFeeBps     uint64
	DiscountBps     uint64
	MakerRebateBps  uint64
	MakerBondBps    uint64
	KeeperRewardBps uint64
	GcRewardBps     uint64

	// Asset symbol and oracle feed used for fee discounts.
	DiscountAsset string
	DiscountFeed  string
}

type Storage struct {
	// DataDir holds the pebble-backed event journal.
	DataDir string
}

type Log struct {
	Level string
	Path  string
}

type Config struct {
	API     API
	Venue   Venue
	Storage Storage
	Log     Log
}

func Default() Config {
	return Config{
		API: API{
			Addr: ":8080",
		},
		Venue: Venue{
			TradeFeeBps:     30,
			DiscountBps:     3000,
			MakerRebateBps:  2000,
			MakerBondBps:    10,
			KeeperRewardBps: 1000,
			GcRewardBps:     100,
			DiscountAsset:   "VNU",
			DiscountFeed:    "VNU-USD",
		},
		Storage: Storage{
			DataDir: "./data",
		},
		Log: Log{
			Level: "info",
			Path:  "",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Path = getEnv("LOG_PATH", cfg.Log.Path)
	cfg.Venue.DiscountAsset = getEnv("DISCOUNT_ASSET", cfg.Venue.DiscountAsset)
	cfg.Venue.DiscountFeed = getEnv("DISCOUNT_FEED", cfg.Venue.DiscountFeed)

	loadBps := func(key string, dst *uint64) {
		if v := os.Getenv(key); v != "" {
			if bps, err := strconv.ParseUint(v, 10, 64); err == nil {
				*dst = bps
			}
		}
	}
	loadBps("TRADE_FEE_BPS", &cfg.Venue.TradeFeeBps)
	loadBps("DISCOUNT_BPS", &cfg.Venue.DiscountBps)
	loadBps("MAKER_REBATE_BPS", &cfg.Venue.MakerRebateBps)
	loadBps("MAKER_BOND_BPS", &cfg.Venue.MakerBondBps)
	loadBps("KEEPER_REWARD_BPS", &cfg.Venue.KeeperRewardBps)
	loadBps("GC_REWARD_BPS", &cfg.Venue.GcRewardBps)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
