package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full run configuration. Values come from the optional YAML
// file first and are then overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	ETL      ETLConfig      `yaml:"etl"`
	Log      LogConfig      `yaml:"log"`
	Status   StatusConfig   `yaml:"status"`
	Minio    MinioConfig    `yaml:"minio"`
	Repair   RepairConfig   `yaml:"repair"`
}

// DatabaseConfig selects the driver and connection. URL, when set, is used
// as the DSN verbatim.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	URL          string `yaml:"url"`
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type ETLConfig struct {
	Input     string `yaml:"input"`
	Output    string `yaml:"output"`
	BatchSize int    `yaml:"batch_size"`
	MaxErrors int    `yaml:"max_errors"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StatusConfig struct {
	Addr   string `yaml:"addr"`
	APIKey string `yaml:"api_key"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type RepairConfig struct {
	GenericFallback bool `yaml:"generic_fallback"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "postgres",
			Host:         "localhost",
			Port:         "5432",
			User:         "postgres",
			Password:     "password",
			Name:         "property_data",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		ETL: ETLConfig{
			Input:     "data/property_data.json",
			Output:    "data/property_data_clean.json",
			BatchSize: 500,
			MaxErrors: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Minio: MinioConfig{
			Region: "us-east-1",
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty) on top of
// Default and then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.ETL.BatchSize <= 0 {
		cfg.ETL.BatchSize = 500
	}
	if cfg.ETL.MaxErrors <= 0 {
		cfg.ETL.MaxErrors = 5
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	db := &c.Database
	db.Driver = GetEnv("DB_DRIVER", db.Driver)
	db.URL = GetEnv("DATABASE_URL", db.URL)
	db.Host = GetEnv("PGHOST", db.Host)
	db.Port = GetEnv("PGPORT", db.Port)
	db.User = GetEnv("PGUSER", db.User)
	db.Password = GetEnv("PGPASSWORD", db.Password)
	db.Name = GetEnv("PGDATABASE", db.Name)
	db.MaxOpenConns = GetEnvInt("DB_MAX_CONNECTIONS", db.MaxOpenConns)

	c.ETL.Input = GetEnv("ETL_INPUT", c.ETL.Input)
	c.ETL.Output = GetEnv("ETL_OUTPUT", c.ETL.Output)
	c.ETL.BatchSize = GetEnvInt("ETL_BATCH_SIZE", c.ETL.BatchSize)
	c.ETL.MaxErrors = GetEnvInt("ETL_MAX_ERRORS", c.ETL.MaxErrors)

	c.Log.Level = GetEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = GetEnv("LOG_FORMAT", c.Log.Format)

	c.Status.Addr = GetEnv("STATUS_ADDR", c.Status.Addr)
	c.Status.APIKey = GetEnv("STATUS_API_KEY", c.Status.APIKey)

	c.Minio.Endpoint = GetEnv("MINIO_ENDPOINT", c.Minio.Endpoint)
	c.Minio.AccessKey = GetEnv("MINIO_ACCESS_KEY", c.Minio.AccessKey)
	c.Minio.SecretKey = GetEnv("MINIO_SECRET_KEY", c.Minio.SecretKey)
	c.Minio.Region = GetEnv("MINIO_REGION", c.Minio.Region)
	c.Minio.UseSSL = GetEnvBool("MINIO_USE_SSL", c.Minio.UseSSL)

	c.Repair.GenericFallback = GetEnvBool("REPAIR_GENERIC_FALLBACK", c.Repair.GenericFallback)
}
