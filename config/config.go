package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Angel One credentials for the live feed
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string
	FeedURL         string
	LoginURL        string

	// Master files
	MastersDir   string
	ProcessedDir string
	Segments     string // comma-separated, e.g. "NSECM,NSEFO"

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string

	// Subscription: "SEGMENT:token" pairs, comma-separated
	SubscribeTokens string
	SubscribeMode   int // 1=LTP 2=Quote 3=SnapQuote

	// ATM watches: "SEGMENT:SYMBOL:EXPIRY" triples, comma-separated
	ATMWatches        string
	ATMBase           string // "cash" or "future"
	ATMThresholdMult  float64
	ATMBackupInterval int // seconds

	// Greeks
	RiskFreeRate float64
	DayCount     string // "calendar" or "trading"
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is merged in first when present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env")
	}

	return &Config{
		AngelAPIKey:     mustEnv("ANGEL_API_KEY"),
		AngelClientCode: mustEnv("ANGEL_CLIENT_CODE"),
		AngelPassword:   mustEnv("ANGEL_PASSWORD"),
		AngelTOTPSecret: mustEnv("ANGEL_TOTP_SECRET"),
		FeedURL:         getEnv("FEED_URL", "wss://smartapisocket.angelone.in/smart-stream"),
		LoginURL:        getEnv("LOGIN_URL", "https://apiconnect.angelone.in/rest/auth/angelbroking/user/v1/loginByPassword"),

		MastersDir:   getEnv("MASTERS_DIR", "data/masters"),
		ProcessedDir: getEnv("PROCESSED_DIR", "data/processed"),
		Segments:     getEnv("SEGMENTS", "NSECM,NSEFO"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/journal.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		// Default: NIFTY 50 index on NSE cash
		SubscribeTokens: getEnv("SUBSCRIBE_TOKENS", "NSECM:26000"),
		SubscribeMode:   getEnvInt("SUBSCRIBE_MODE", 3),

		ATMWatches:        getEnv("ATM_WATCHES", ""),
		ATMBase:           getEnv("ATM_BASE", "cash"),
		ATMThresholdMult:  getEnvFloat("ATM_THRESHOLD_MULT", 0.5),
		ATMBackupInterval: getEnvInt("ATM_BACKUP_INTERVAL", 60),

		RiskFreeRate: getEnvFloat("RISK_FREE_RATE", 0.065),
		DayCount:     getEnv("DAY_COUNT", "calendar"),
	}
}

// ParseSegments parses the Segments string into segment names.
func (c *Config) ParseSegments() []string {
	return splitList(c.Segments)
}

// ParseTokens parses SubscribeTokens into (segment name, token) pairs.
// Invalid entries are logged and skipped.
func (c *Config) ParseTokens() map[string][]int64 {
	out := make(map[string][]int64)
	for _, item := range splitList(c.SubscribeTokens) {
		seg, tok, ok := strings.Cut(item, ":")
		if !ok {
			log.Printf("[config] skipping invalid token entry: %q", item)
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(tok), 10, 64)
		if err != nil {
			log.Printf("[config] skipping invalid token entry: %q", item)
			continue
		}
		seg = strings.TrimSpace(seg)
		out[seg] = append(out[seg], n)
	}
	return out
}

// ParseWatches parses ATMWatches into (segment, symbol, expiry) triples.
func (c *Config) ParseWatches() [][3]string {
	var out [][3]string
	for _, item := range splitList(c.ATMWatches) {
		parts := strings.SplitN(item, ":", 3)
		if len(parts) != 3 {
			log.Printf("[config] skipping invalid ATM watch: %q", item)
			continue
		}
		out = append(out, [3]string{
			strings.TrimSpace(parts[0]),
			strings.TrimSpace(parts[1]),
			strings.TrimSpace(parts[2]),
		})
	}
	return out
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using default %g", key, v, fallback)
		return fallback
	}
	return f
}
