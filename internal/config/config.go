package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/go-tagger/internal/safetensors"
	"github.com/example/go-tagger/internal/vocab"
)

type Config struct {
	Paths    PathsConfig   `mapstructure:"paths"`
	Tagger   TaggerConfig  `mapstructure:"tagger"`
	Train    TrainConfig   `mapstructure:"train"`
	Runtime  RuntimeConfig `mapstructure:"runtime"`
	Server   ServerConfig  `mapstructure:"server"`
	LogLevel string        `mapstructure:"log_level"`
}

type PathsConfig struct {
	ModelDir   string `mapstructure:"model_dir"`
	Dictionary string `mapstructure:"dictionary"`
	SPMModel   string `mapstructure:"spm_model"`
	ONNXModel  string `mapstructure:"onnx_model"`
}

type TaggerConfig struct {
	Backend       string `mapstructure:"backend"`
	CRF           bool   `mapstructure:"crf"`
	TokenKey      string `mapstructure:"token_key"`
	BatchSize     int    `mapstructure:"batch_size"`
	TaggingScheme string `mapstructure:"tagging_scheme"`
	Reduction     string `mapstructure:"reduction"`
	// Splitter turns request text into tokens (whitespace|runes|sentencepiece).
	Splitter      string `mapstructure:"splitter"`
	// FoldWidth maps full-width forms to their ASCII equivalents before
	// splitting.
	FoldWidth bool `mapstructure:"fold_width"`
}

type TrainConfig struct {
	Epochs       int     `mapstructure:"epochs"`
	Patience     int     `mapstructure:"patience"`
	LR           float64 `mapstructure:"lr"`
	Optimizer    string  `mapstructure:"optimizer"`
	EmbeddingDim int     `mapstructure:"embedding_dim"`
	Seed         uint64  `mapstructure:"seed"`
	// SaveDType is the checkpoint weight precision (F32|F16|BF16).
	SaveDType string `mapstructure:"save_dtype"`
}

type RuntimeConfig struct {
	// Workers splits dense projections across goroutines. Values above one
	// make the model data-parallel, which cannot be combined with a CRF.
	Workers        int    `mapstructure:"workers"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	MaxTokens       int    `mapstructure:"max_tokens"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelDir:   "models/tagger",
			Dictionary: "",
			SPMModel:   "",
			ONNXModel:  "",
		},
		Tagger: TaggerConfig{
			Backend:   BackendLookup,
			CRF:       false,
			TokenKey:  "token",
			BatchSize: 32,
			Reduction: "mean",
			Splitter:  "whitespace",
		},
		Train: TrainConfig{
			Epochs:       20,
			Patience:     5,
			LR:           0.1,
			Optimizer:    "sgd",
			EmbeddingDim: 64,
			Seed:         1,
			SaveDType:    "F32",
		},
		Runtime: RuntimeConfig{
			Workers: 1,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			MaxTokens:       4096,
			RequestTimeout:  60,
			ShutdownTimeout: 30,
		},
		LogLevel: "info",
	}
}

// flagKeys maps every registered flag to the config key it sets.
var flagKeys = map[string]string{
	"paths-model-dir":         "paths.model_dir",
	"paths-dictionary":        "paths.dictionary",
	"paths-spm-model":         "paths.spm_model",
	"paths-onnx-model":        "paths.onnx_model",
	"backend":                 "tagger.backend",
	"crf":                     "tagger.crf",
	"token-key":               "tagger.token_key",
	"batch-size":              "tagger.batch_size",
	"tagging-scheme":          "tagger.tagging_scheme",
	"reduction":               "tagger.reduction",
	"splitter":                "tagger.splitter",
	"fold-width":              "tagger.fold_width",
	"epochs":                  "train.epochs",
	"patience":                "train.patience",
	"lr":                      "train.lr",
	"optimizer":               "train.optimizer",
	"embedding-dim":           "train.embedding_dim",
	"seed":                    "train.seed",
	"save-dtype":              "train.save_dtype",
	"runtime-workers":         "runtime.workers",
	"ort-lib":                 "runtime.ort_library_path",
	"runtime-ort-version":     "runtime.ort_version",
	"server-listen-addr":      "server.listen_addr",
	"workers":                 "server.workers",
	"max-tokens":              "server.max_tokens",
	"server-request-timeout":  "server.request_timeout",
	"server-shutdown-timeout": "server.shutdown_timeout",
	"log-level":               "log_level",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-model-dir", defaults.Paths.ModelDir, "Directory holding model weights, tag and token vocabularies")
	fs.String("paths-dictionary", defaults.Paths.Dictionary, "JSON dictionary of token tuples whose tags override predictions")
	fs.String("paths-spm-model", defaults.Paths.SPMModel, "SentencePiece model used to split raw text (whitespace when empty)")
	fs.String("paths-onnx-model", defaults.Paths.ONNXModel, "ONNX manifest for the onnx backend")
	fs.String("backend", defaults.Tagger.Backend, "Emission model backend (lookup|onnx)")
	fs.Bool("crf", defaults.Tagger.CRF, "Decode with a CRF layer instead of per-token argmax")
	fs.String("token-key", defaults.Tagger.TokenKey, "Sample field holding input tokens")
	fs.Int("batch-size", defaults.Tagger.BatchSize, "Sentences per batch")
	fs.String("tagging-scheme", defaults.Tagger.TaggingScheme, "Tagging scheme (IOB1|IOB2|BIOUL|BMES|IOBES); guessed from tags when empty")
	fs.String("reduction", defaults.Tagger.Reduction, "Cross-entropy reduction (mean|sum)")
	fs.String("splitter", defaults.Tagger.Splitter, "Text splitter for raw input (whitespace|runes|sentencepiece)")
	fs.Bool("fold-width", defaults.Tagger.FoldWidth, "Fold full-width characters to half-width in raw input")
	fs.Int("epochs", defaults.Train.Epochs, "Training epochs")
	fs.Int("patience", defaults.Train.Patience, "Epochs without dev improvement before stopping early")
	fs.Float64("lr", defaults.Train.LR, "Learning rate")
	fs.String("optimizer", defaults.Train.Optimizer, "Optimizer (sgd|adam)")
	fs.Int("embedding-dim", defaults.Train.EmbeddingDim, "Token embedding size of the lookup model")
	fs.Uint64("seed", defaults.Train.Seed, "Random seed for initialization and shuffling")
	fs.String("save-dtype", defaults.Train.SaveDType, "Checkpoint weight precision (F32|F16|BF16)")
	fs.Int("runtime-workers", defaults.Runtime.Workers, "Goroutines used by dense projections")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Concurrent tagging requests")
	fs.Int("max-tokens", defaults.Server.MaxTokens, "Maximum tokens per request")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Request timeout in seconds")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)

	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("TAGGER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	if err := v.BindEnv("runtime.ort_library_path", "TAGGER_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}

	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)

		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("tagger")
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// bindFlags binds the registered flags present in fs. Unset flags only
// contribute their defaults, so config files and env vars still apply.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}

		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.model_dir", c.Paths.ModelDir)
	v.SetDefault("paths.dictionary", c.Paths.Dictionary)
	v.SetDefault("paths.spm_model", c.Paths.SPMModel)
	v.SetDefault("paths.onnx_model", c.Paths.ONNXModel)
	v.SetDefault("tagger.backend", c.Tagger.Backend)
	v.SetDefault("tagger.crf", c.Tagger.CRF)
	v.SetDefault("tagger.token_key", c.Tagger.TokenKey)
	v.SetDefault("tagger.batch_size", c.Tagger.BatchSize)
	v.SetDefault("tagger.tagging_scheme", c.Tagger.TaggingScheme)
	v.SetDefault("tagger.reduction", c.Tagger.Reduction)
	v.SetDefault("tagger.splitter", c.Tagger.Splitter)
	v.SetDefault("tagger.fold_width", c.Tagger.FoldWidth)
	v.SetDefault("train.epochs", c.Train.Epochs)
	v.SetDefault("train.patience", c.Train.Patience)
	v.SetDefault("train.lr", c.Train.LR)
	v.SetDefault("train.optimizer", c.Train.Optimizer)
	v.SetDefault("train.embedding_dim", c.Train.EmbeddingDim)
	v.SetDefault("train.seed", c.Train.Seed)
	v.SetDefault("train.save_dtype", c.Train.SaveDType)
	v.SetDefault("runtime.workers", c.Runtime.Workers)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_tokens", c.Server.MaxTokens)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("log_level", c.LogLevel)
}

// Validate checks values that cannot be expressed through flag types.
func (c Config) Validate() error {
	if _, err := NormalizeBackend(c.Tagger.Backend); err != nil {
		return err
	}

	if c.Tagger.BatchSize <= 0 {
		return fmt.Errorf("tagger.batch_size must be > 0, got %d", c.Tagger.BatchSize)
	}

	if strings.TrimSpace(c.Tagger.TokenKey) == "" {
		return errors.New("tagger.token_key must not be empty")
	}

	switch c.Tagger.Reduction {
	case "mean", "sum":
	default:
		return fmt.Errorf("tagger.reduction must be mean or sum, got %q", c.Tagger.Reduction)
	}

	if _, err := vocab.ParseScheme(c.Tagger.TaggingScheme); err != nil {
		return fmt.Errorf("tagger.tagging_scheme: %w", err)
	}

	if _, err := safetensors.ParseDType(c.Train.SaveDType); err != nil {
		return fmt.Errorf("train.save_dtype: %w", err)
	}

	if c.Train.Epochs <= 0 {
		return fmt.Errorf("train.epochs must be > 0, got %d", c.Train.Epochs)
	}

	if c.Train.Patience < 0 {
		return fmt.Errorf("train.patience must be >= 0, got %d", c.Train.Patience)
	}

	if c.Runtime.Workers <= 0 {
		return fmt.Errorf("runtime.workers must be > 0, got %d", c.Runtime.Workers)
	}

	if c.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be > 0, got %d", c.Server.Workers)
	}

	return nil
}
