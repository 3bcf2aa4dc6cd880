package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment      string
	Addr             string
	DatabaseURL      string
	MigrationsDir    string
	JWTSecret        string
	EnvEncryptionKey string

	RunnerURL       string
	RunnerAuthToken string
	DispatchTimeout time.Duration

	CallbackSecret    string
	PushWebhookSecret string
	DefaultBranches   []string

	PlatformDockerHost string
	ProbeTimeout       time.Duration
	ProbePersistWindow time.Duration

	SCMAPIBaseURL string

	AllowAnonymousCreate bool

	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:          GetString("APP_ENV", "development"),
		Addr:                 GetString("API_ADDR", ":4000"),
		DatabaseURL:          GetString("DATABASE_URL", "postgres://slipway:slipway@db:5432/slipway?sslmode=disable"),
		MigrationsDir:        GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:            GetString("JWT_SECRET", "supersecuresecret"),
		EnvEncryptionKey:     GetString("ENV_ENCRYPTION_KEY", "supersecuresecret"),
		RunnerURL:            GetString("RUNNER_URL", "http://runner:5000"),
		RunnerAuthToken:      GetString("RUNNER_AUTH_TOKEN", ""),
		DispatchTimeout:      GetSeconds("DISPATCH_TIMEOUT_SECONDS", 30),
		CallbackSecret:       GetString("BUILD_CALLBACK_SECRET", ""),
		PushWebhookSecret:    GetString("GIT_WEBHOOK_SECRET", ""),
		DefaultBranches:      []string{GetString("DEFAULT_BRANCH", "main"), "master"},
		PlatformDockerHost:   GetString("PLATFORM_DOCKER_HOST", ""),
		ProbeTimeout:         GetSeconds("PROBE_TIMEOUT_SECONDS", 3),
		ProbePersistWindow:   GetSeconds("PROBE_PERSIST_TIMEOUT_SECONDS", 5),
		SCMAPIBaseURL:        GetString("SCM_API_BASE_URL", "https://api.github.com"),
		AllowAnonymousCreate: GetBool("ALLOW_ANONYMOUS_CREATE", false),
		RateLimitRedisAddr:   GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass:   GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:     GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
