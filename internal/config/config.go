package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for a GraphMill conversion run
type Config struct {
	Convert ConvertConfig
	Schema  SchemaConfig
	Output  OutputConfig
	Storage StorageConfig
	Log     LogConfig
}

type ConvertConfig struct {
	SliceCount    int    // Number of slices entities are partitioned into
	Workers       int    // Max input files converted in parallel (default: NumCPU)
	FieldDelim    string // Delimiter between field groups in a raw line (default: tab)
	TokenDelim    string // Delimiter between tokens inside a field group (default: ":")
	MaxLineSize   int64  // Maximum raw input line size in bytes
	MaxRecordSize int64  // Maximum encoded record size in bytes
}

type SchemaConfig struct {
	Path string // Path to the JSON schema artifact
}

type OutputConfig struct {
	Dir         string // Local staging directory for slice segments
	Prefix      string // Object key prefix when uploading to a remote backend
	Compression string // Segment compression: none, zstd
}

type StorageConfig struct {
	Backend   string // local, s3, azure
	LocalPath string
	// S3/MinIO configuration
	S3Bucket    string
	S3Region    string
	S3Endpoint  string // Custom endpoint for MinIO (e.g. "http://localhost:9000")
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3PathStyle bool // Path-style addressing (required for MinIO)
	// Azure Blob Storage configuration
	AzureConnectionString   string
	AzureAccountName        string
	AzureAccountKey         string
	AzureSASToken           string
	AzureContainer          string
	AzureEndpoint           string
	AzureUseManagedIdentity bool
}

type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment and config file
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("GRAPHMILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("graphmill")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/graphmill/")
	v.AddConfigPath("$HOME/.graphmill/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	maxLineSize, err := ParseSize(v.GetString("convert.max_line_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid convert.max_line_size: %w", err)
	}
	maxRecordSize, err := ParseSize(v.GetString("convert.max_record_size"))
	if err != nil {
		return nil, fmt.Errorf("invalid convert.max_record_size: %w", err)
	}

	cfg := &Config{
		Convert: ConvertConfig{
			SliceCount:    v.GetInt("convert.slice_count"),
			Workers:       v.GetInt("convert.workers"),
			FieldDelim:    v.GetString("convert.field_delim"),
			TokenDelim:    v.GetString("convert.token_delim"),
			MaxLineSize:   maxLineSize,
			MaxRecordSize: maxRecordSize,
		},
		Schema: SchemaConfig{
			Path: v.GetString("schema.path"),
		},
		Output: OutputConfig{
			Dir:         v.GetString("output.dir"),
			Prefix:      v.GetString("output.prefix"),
			Compression: v.GetString("output.compression"),
		},
		Storage: StorageConfig{
			Backend:     v.GetString("storage.backend"),
			LocalPath:   v.GetString("storage.local_path"),
			S3Bucket:    v.GetString("storage.s3_bucket"),
			S3Region:    v.GetString("storage.s3_region"),
			S3Endpoint:  v.GetString("storage.s3_endpoint"),
			S3AccessKey: v.GetString("storage.s3_access_key"),
			S3SecretKey: v.GetString("storage.s3_secret_key"),
			S3UseSSL:    v.GetBool("storage.s3_use_ssl"),
			S3PathStyle: v.GetBool("storage.s3_path_style"),
			// Azure Blob Storage
			AzureConnectionString:   v.GetString("storage.azure_connection_string"),
			AzureAccountName:        v.GetString("storage.azure_account_name"),
			AzureAccountKey:         v.GetString("storage.azure_account_key"),
			AzureSASToken:           v.GetString("storage.azure_sas_token"),
			AzureContainer:          v.GetString("storage.azure_container"),
			AzureEndpoint:           v.GetString("storage.azure_endpoint"),
			AzureUseManagedIdentity: v.GetBool("storage.azure_use_managed_identity"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that viper defaults cannot express.
func (cfg *Config) Validate() error {
	if cfg.Convert.SliceCount <= 0 {
		return fmt.Errorf("convert.slice_count must be positive, got %d", cfg.Convert.SliceCount)
	}
	if cfg.Convert.Workers <= 0 {
		return fmt.Errorf("convert.workers must be positive, got %d", cfg.Convert.Workers)
	}
	if cfg.Convert.FieldDelim == "" {
		return fmt.Errorf("convert.field_delim must not be empty")
	}
	if cfg.Convert.FieldDelim == cfg.Convert.TokenDelim {
		return fmt.Errorf("convert.field_delim and convert.token_delim must differ")
	}
	switch cfg.Output.Compression {
	case "none", "zstd":
	default:
		return fmt.Errorf("output.compression must be none or zstd, got %q", cfg.Output.Compression)
	}
	switch cfg.Storage.Backend {
	case "local", "s3", "azure":
	default:
		return fmt.Errorf("storage.backend must be local, s3 or azure, got %q", cfg.Storage.Backend)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Convert defaults
	v.SetDefault("convert.slice_count", 8)
	v.SetDefault("convert.workers", getDefaultWorkers())
	v.SetDefault("convert.field_delim", "\t")
	v.SetDefault("convert.token_delim", ":")
	v.SetDefault("convert.max_line_size", "16MB")
	v.SetDefault("convert.max_record_size", "64MB")

	// Schema defaults
	v.SetDefault("schema.path", "./schema.json")

	// Output defaults
	v.SetDefault("output.dir", "./data/slices")
	v.SetDefault("output.prefix", "")
	v.SetDefault("output.compression", "none")

	// Storage defaults
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_path", "./data/graphmill")
	v.SetDefault("storage.s3_region", "us-east-1")
	v.SetDefault("storage.s3_use_ssl", true)
	v.SetDefault("storage.s3_path_style", false) // set true for MinIO

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func getDefaultWorkers() int {
	// One worker per input file up to the core count; conversion is CPU bound
	// between I/O waits, so more than NumCPU rarely helps.
	cores := runtime.NumCPU()
	if cores < 1 {
		return 1
	}
	return cores
}

// ParseSize parses a human-readable size string (e.g., "1GB", "500MB", "100KB") to bytes.
// Supports: B, KB, MB, GB (case-insensitive).
func ParseSize(sizeStr string) (int64, error) {
	sizeStr = strings.TrimSpace(strings.ToUpper(sizeStr))
	if sizeStr == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type unitInfo struct {
		suffix     string
		multiplier int64
	}
	// Order matters: check longer suffixes first
	units := []unitInfo{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	for _, unit := range units {
		if strings.HasSuffix(sizeStr, unit.suffix) {
			numStr := strings.TrimSpace(strings.TrimSuffix(sizeStr, unit.suffix))

			var num float64
			var trailing string
			n, _ := fmt.Sscanf(numStr, "%f%s", &num, &trailing)
			if n == 0 {
				return 0, fmt.Errorf("invalid size number: %s", numStr)
			}
			if trailing != "" {
				// Extra text after the number - likely an unrecognized unit like "T" in "1TB"
				return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
			}
			if num < 0 {
				return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
			}
			return int64(num * float64(unit.multiplier)), nil
		}
	}

	// Plain number of bytes
	var num int64
	var trailing string
	n, _ := fmt.Sscanf(sizeStr, "%d%s", &num, &trailing)
	if n == 0 || trailing != "" {
		return 0, fmt.Errorf("invalid size format: %s (use e.g., '1GB', '500MB', '100KB')", sizeStr)
	}
	if num < 0 {
		return 0, fmt.Errorf("size cannot be negative: %s", sizeStr)
	}
	return num, nil
}
