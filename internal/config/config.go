package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"civic-dispatch-backend/internal/models"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	StoreDriver string
	JWTSecret   string

	// per-IP limit on the login endpoint; zero disables it
	AuthRateLimit float64
	AuthRateBurst int

	Routing  RoutingConfig
	Dispatch DispatchConfig
	Firebase FirebaseConfig
}

type RoutingConfig struct {
	OSRMBaseURL    string
	Timeout        time.Duration
	UserAgent      string
	Disabled       bool
	CacheTTL       time.Duration
	FallbackSteps  int
	FallbackWiggle float64
	RateLimit      float64
	RateBurst      int
}

type DispatchConfig struct {
	AllowForcedAssignment bool
	ServiceDepartments    map[models.ServiceType]string
	DefaultUnitLocation   models.Coordinate
	MaxMatchAttempts      int
}

type FirebaseConfig struct {
	CredentialsBase64 string
	CredentialsFile   string
}

const (
	// MinFallbackSteps keeps synthetic routes smooth enough to animate.
	MinFallbackSteps = 20
	// MaxFallbackWiggle bounds the lateral offset of synthetic routes (~200 m).
	MaxFallbackWiggle = 0.002

	defaultServiceDepartments = "AMBULANCE:Health,FIRE:Fire,POLICE:Police"
)

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("⚠️  .env load warning")
	}

	departments, err := ParseServiceDepartments(getEnv("DISPATCH_SERVICE_DEPARTMENTS", defaultServiceDepartments))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:         getEnv("APP_ENV", "dev"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "postgres")),
		JWTSecret:   os.Getenv("APP_JWT_SECRET"),

		AuthRateLimit: getEnvFloat("AUTH_RATE_LIMIT", 1),
		AuthRateBurst: getEnvInt("AUTH_RATE_BURST", 5),

		Routing: RoutingConfig{
			OSRMBaseURL:    getEnv("OSRM_BASE_URL", "https://router.project-osrm.org"),
			Timeout:        getEnvDuration("ROUTING_TIMEOUT", 3*time.Second),
			UserAgent:      getEnv("ROUTING_USER_AGENT", "civic-dispatch-backend/1.0 (emergency-dispatch)"),
			Disabled:       getEnvBool("ROUTING_DISABLED", false),
			CacheTTL:       getEnvDuration("ROUTE_CACHE_TTL", 10*time.Minute),
			FallbackSteps:  getEnvInt("FALLBACK_ROUTE_STEPS", 30),
			FallbackWiggle: getEnvFloat("FALLBACK_ROUTE_AMPLITUDE", 0.0015),
			// the public OSRM demo server allows about one request per second
			RateLimit: getEnvFloat("ROUTING_RATE_LIMIT", 1),
			RateBurst: getEnvInt("ROUTING_RATE_BURST", 2),
		},
		Dispatch: DispatchConfig{
			AllowForcedAssignment: getEnvBool("DISPATCH_ALLOW_FORCED_ASSIGNMENT", true),
			ServiceDepartments:    departments,
			DefaultUnitLocation: models.Coordinate{
				Latitude:  getEnvFloat("DEFAULT_UNIT_LATITUDE", 27.7172),
				Longitude: getEnvFloat("DEFAULT_UNIT_LONGITUDE", 85.3240),
			},
			MaxMatchAttempts: getEnvInt("DISPATCH_MAX_MATCH_ATTEMPTS", 3),
		},
		Firebase: FirebaseConfig{
			CredentialsBase64: os.Getenv("FIREBASE_CREDENTIALS_BASE64"),
			CredentialsFile:   getEnv("FIREBASE_CREDENTIALS_FILE", "./firebase-service-account.json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric, got %q", c.Port)
	}
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Routing.FallbackSteps < MinFallbackSteps {
		return fmt.Errorf("FALLBACK_ROUTE_STEPS must be >= %d", MinFallbackSteps)
	}
	if c.Routing.FallbackWiggle < 0 || c.Routing.FallbackWiggle > MaxFallbackWiggle {
		return fmt.Errorf("FALLBACK_ROUTE_AMPLITUDE must be within [0, %g]", MaxFallbackWiggle)
	}
	if c.Routing.RateLimit < 0 || c.AuthRateLimit < 0 {
		return errors.New("rate limits must not be negative")
	}
	if c.Routing.Timeout <= 0 {
		return errors.New("ROUTING_TIMEOUT must be positive")
	}
	if !c.Dispatch.DefaultUnitLocation.Valid() {
		return errors.New("DEFAULT_UNIT_LATITUDE/LONGITUDE out of range")
	}
	if c.Dispatch.MaxMatchAttempts < 1 {
		return errors.New("DISPATCH_MAX_MATCH_ATTEMPTS must be >= 1")
	}
	return nil
}

// ParseServiceDepartments parses "AMBULANCE:Health,FIRE:Fire" into the
// service -> department-name table used for candidate lookup.
func ParseServiceDepartments(raw string) (map[models.ServiceType]string, error) {
	out := make(map[models.ServiceType]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		service, dept, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(dept) == "" {
			return nil, fmt.Errorf("invalid service department entry %q", pair)
		}
		st, err := models.ParseServiceType(service)
		if err != nil {
			return nil, err
		}
		out[st] = strings.TrimSpace(dept)
	}
	if len(out) == 0 {
		return nil, errors.New("service department table is empty")
	}
	return out, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
