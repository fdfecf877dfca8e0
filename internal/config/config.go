package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Generator GeneratorConfig `mapstructure:"generator"`
	TTS       TTSConfig       `mapstructure:"tts"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type OllamaConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	AutoPull       bool          `mapstructure:"auto_pull"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ModelsTTL      time.Duration `mapstructure:"models_ttl"`
}

type GeneratorConfig struct {
	DataDir     string `mapstructure:"data_dir"`
	MaxChapters int    `mapstructure:"max_chapters"`
}

type TTSConfig struct {
	ModelPath    string  `mapstructure:"model_path"`
	TokensPath   string  `mapstructure:"tokens_path"`
	LexiconPath  string  `mapstructure:"lexicon_path"`
	DataDir      string  `mapstructure:"data_dir"`
	NumThreads   int     `mapstructure:"num_threads"`
	DefaultVoice string  `mapstructure:"default_voice"`
	DefaultSpeed float64 `mapstructure:"default_speed"`
}

type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // local, s3
	Dir       string `mapstructure:"dir"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
}

type RunnerConfig struct {
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	RecommendThreshold int           `mapstructure:"recommend_threshold"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("ollama.base_url", "OLLAMA_BASE_URL")
	v.BindEnv("ollama.model", "OLLAMA_MODEL")
	v.BindEnv("archive.access_key", "ARCHIVE_ACCESS_KEY")
	v.BindEnv("archive.secret_key", "ARCHIVE_SECRET_KEY")
	v.BindEnv("database.dsn", "DATABASE_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/app.db")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("ollama.base_url", "http://127.0.0.1:11434")
	v.SetDefault("ollama.model", "llama3.2:3b")
	v.SetDefault("ollama.auto_pull", false)
	v.SetDefault("ollama.request_timeout", 10*time.Minute)
	v.SetDefault("ollama.models_ttl", 2*time.Minute)

	v.SetDefault("generator.data_dir", "./data/jobs")
	v.SetDefault("generator.max_chapters", 12)

	v.SetDefault("tts.num_threads", 2)
	v.SetDefault("tts.default_voice", "0")
	v.SetDefault("tts.default_speed", 1.0)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.type", "local")
	v.SetDefault("archive.dir", "./data/archive")
	v.SetDefault("archive.use_ssl", false)
	v.SetDefault("archive.bucket", "books")

	v.SetDefault("runner.poll_interval", time.Second)
	v.SetDefault("runner.recommend_threshold", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
}
