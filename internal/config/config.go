package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	DatabasePath  string `mapstructure:"database_path" yaml:"database_path"`
	UploadDir     string `mapstructure:"upload_dir" yaml:"upload_dir"`
	UploadBaseURL string `mapstructure:"upload_base_url" yaml:"upload_base_url"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	LogLevel      string        `mapstructure:"log_level" yaml:"log_level"`
	TypingTTL     time.Duration `mapstructure:"typing_ttl" yaml:"typing_ttl"`
	HistoryLimit  int           `mapstructure:"history_limit" yaml:"history_limit"`
	SessionBuffer int           `mapstructure:"session_buffer" yaml:"session_buffer"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "pingline.db",
		UploadDir:         "uploads",
		UploadBaseURL:     "",
		JWTSecret:         "change-me",
		JWTIssuer:         "pingline",
		JWTAudience:       "pingline-client",
		JWTTTL:            24 * time.Hour,
		LogLevel:          "info",
		TypingTTL:         3 * time.Second,
		HistoryLimit:      100,
		SessionBuffer:     32,
	}
}
