package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port         string
	Env          string
	APIUrl       string
	DashboardURL string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBTimeZone string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// JWT
	JWTSecret               string
	JWTAccessTokenDuration  time.Duration
	JWTRefreshTokenDuration time.Duration

	// Admin
	AdminUsername string
	AdminPassword string
	AdminEmail    string

	// Discord
	DiscordPublicKey string
	DiscordBotToken  string
	DiscordAPIBase   string
	SignatureMaxSkew time.Duration

	// Verification policy defaults (guild configs may override code
	// length and session TTL within the allowed bounds)
	CodeLength         int
	SessionTTL         time.Duration
	MaxAttempts        int
	GuildCooldown      time.Duration
	GlobalCooldown     time.Duration
	RateLimitRecordTTL time.Duration

	// Outbound call policy
	HTTPTimeout    time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration

	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string

	// Email provider events webhook (bounces/complaints)
	EmailEventSecret string

	// Backup S3 - audit log exports
	BackupS3Endpoint        string
	BackupS3Region          string
	BackupS3AccessKeyID     string
	BackupS3SecretAccessKey string
	BackupS3UsePathStyle    bool
	BackupBucket            string
	BackupEnabled           bool

	// Security
	BcryptCost        int
	RateLimitRequests int
	RateLimitDuration time.Duration

	// CORS
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

func New() *Config {
	return &Config{
		// Server
		Port:         getEnv("PORT", "8080"),
		Env:          getEnv("ENV", "development"),
		APIUrl:       getEnv("API_URL", "http://localhost:8080"),
		DashboardURL: getEnv("DASHBOARD_URL", "http://localhost:3000"),

		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "guildgate"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "guildgate_db"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),
		DBTimeZone: getEnv("DB_TIMEZONE", "UTC"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// JWT
		JWTSecret:               getEnv("JWT_SECRET", "your-secret-key"),
		JWTAccessTokenDuration:  getEnvAsDuration("JWT_ACCESS_TOKEN_DURATION", "1h"),
		JWTRefreshTokenDuration: getEnvAsDuration("JWT_REFRESH_TOKEN_DURATION", "168h"),

		// Admin
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin123"),
		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@guildgate.dev"),

		// Discord
		DiscordPublicKey: getEnv("DISCORD_PUBLIC_KEY", ""),
		DiscordBotToken:  getEnv("DISCORD_BOT_TOKEN", ""),
		DiscordAPIBase:   getEnv("DISCORD_API_BASE", "https://discord.com/api/v10"),
		SignatureMaxSkew: getEnvAsDuration("SIGNATURE_MAX_SKEW", "5m"),

		// Verification policy
		CodeLength:         getEnvAsInt("VERIFICATION_CODE_LENGTH", 6),
		SessionTTL:         getEnvAsDuration("VERIFICATION_SESSION_TTL", "15m"),
		MaxAttempts:        getEnvAsInt("VERIFICATION_MAX_ATTEMPTS", 3),
		GuildCooldown:      getEnvAsDuration("VERIFICATION_GUILD_COOLDOWN", "60s"),
		GlobalCooldown:     getEnvAsDuration("VERIFICATION_GLOBAL_COOLDOWN", "300s"),
		RateLimitRecordTTL: getEnvAsDuration("VERIFICATION_RATE_RECORD_TTL", "24h"),

		// Outbound call policy
		HTTPTimeout:    getEnvAsDuration("HTTP_TIMEOUT", "10s"),
		RetryAttempts:  getEnvAsInt("RETRY_ATTEMPTS", 3),
		RetryBaseDelay: getEnvAsDuration("RETRY_BASE_DELAY", "250ms"),

		// SMTP
		SMTPHost:     getEnv("SMTP_HOST", "smtp.example.edu"),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 465),
		SMTPUsername: getEnv("SMTP_USERNAME", "verify@guildgate.dev"),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "verify@guildgate.dev"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "GuildGate"),

		// Email provider events
		EmailEventSecret: getEnv("EMAIL_EVENT_SECRET", ""),

		// Backup S3
		BackupS3Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupS3Region:          getEnv("BACKUP_S3_REGION", "us-east-1"),
		BackupS3AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		BackupS3SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		BackupS3UsePathStyle:    getEnv("BACKUP_S3_USE_PATH_STYLE", "true") == "true",
		BackupBucket:            getEnv("BACKUP_BUCKET", "guildgate-backups"),
		BackupEnabled:           getEnv("BACKUP_ENABLED", "false") == "true",

		// Security
		BcryptCost:        getEnvAsInt("BCRYPT_COST", 12),
		RateLimitRequests: getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitDuration: getEnvAsDuration("RATE_LIMIT_DURATION", "1m"),

		// CORS
		AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		AllowedMethods: getEnvAsSlice("ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		AllowedHeaders: getEnvAsSlice("ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	if duration, err := time.ParseDuration(defaultValue); err == nil {
		return duration
	}
	return 0
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
