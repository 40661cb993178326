package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nerdneilsfield/go-book-translator/internal/document"
	"github.com/nerdneilsfield/go-book-translator/internal/translator"
	"github.com/nerdneilsfield/go-book-translator/internal/unit"
	"github.com/nerdneilsfield/go-book-translator/pkg/chunker"
	"github.com/nerdneilsfield/go-book-translator/pkg/providers"
	"github.com/nerdneilsfield/go-book-translator/pkg/transform"
	"github.com/spf13/viper"
)

// ProviderConfig 转换服务配置
type ProviderConfig struct {
	Name            string        `mapstructure:"name"`
	Model           string        `mapstructure:"model"`
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Project         string        `mapstructure:"project"`
	Region          string        `mapstructure:"region"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	Instruction     string        `mapstructure:"instruction"`
}

// ChunkConfig 分块配置，单位为字符
type ChunkConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	Limit        int  `mapstructure:"limit"`
	SearchWindow int  `mapstructure:"search_window"`
	MinSize      int  `mapstructure:"min_size"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	ContentRetries int           `mapstructure:"content_retries"`
	InitialDelay   time.Duration `mapstructure:"initial_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	BackoffFactor  float64       `mapstructure:"backoff_factor"`
}

// Config 保存翻译器的所有配置
type Config struct {
	SourceLang        string         `mapstructure:"source_lang"`
	TargetLang        string         `mapstructure:"target_lang"`
	Provider          ProviderConfig `mapstructure:"provider"`
	Chunk             ChunkConfig    `mapstructure:"chunk"`
	Retry             RetryConfig    `mapstructure:"retry"`
	Concurrency       int            `mapstructure:"concurrency"`         // 同时处理的单元数
	RequestsPerMinute int            `mapstructure:"requests_per_minute"` // 0 表示不限速
	Suffix            string         `mapstructure:"suffix"`              // 翻译后部件的文件名后缀
	OutputFormat      string         `mapstructure:"output_format"`       // 扁平文档的输出格式，空值表示与输入相同
	Overwrite         bool           `mapstructure:"overwrite"`
	JobStore          string         `mapstructure:"job_store"` // .db 使用 SQLite，其余为 JSON 目录
	Resume            bool           `mapstructure:"resume"`
	CredentialsFile   string         `mapstructure:"credentials_file"` // gs:// 输入输出使用的凭据
	Glossary          string         `mapstructure:"glossary"`         // TOML 术语表
	Debug             bool           `mapstructure:"debug"`
	LogFile           string         `mapstructure:"log_file"`
}

// LoadConfig 从文件加载配置。configPath 为空时在家目录和当前目录查找 .translator.yaml。
func LoadConfig(configPath string) (*Config, error) {
	// .env 中的密钥在读取环境变量之前加载，已存在的环境变量不会被覆盖
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".translator")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("TRANSLATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = apiKeyFromEnv(cfg.Provider.Name)
	}
	return &cfg, nil
}

// NewDefaultConfig 创建默认配置
func NewDefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source_lang", "English")
	v.SetDefault("target_lang", "Chinese")

	v.SetDefault("provider.name", "openai")
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.temperature", 0.3)
	v.SetDefault("provider.timeout", 5*time.Minute)
	v.SetDefault("provider.region", "us-central1")
	// 没有默认值的键也要注册，环境变量才能参与解码
	for _, key := range []string{"api_key", "base_url", "project", "credentials_file", "instruction"} {
		v.SetDefault("provider."+key, "")
	}
	v.SetDefault("provider.max_tokens", 0)

	v.SetDefault("chunk.enabled", true)
	v.SetDefault("chunk.limit", 900000)
	v.SetDefault("chunk.search_window", 500)
	v.SetDefault("chunk.min_size", 500)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.content_retries", 1)
	v.SetDefault("retry.initial_delay", 2*time.Second)
	v.SetDefault("retry.max_delay", 60*time.Second)
	v.SetDefault("retry.backoff_factor", 2.0)

	v.SetDefault("concurrency", 4)
	v.SetDefault("requests_per_minute", 0)
	v.SetDefault("suffix", "_translated")
	v.SetDefault("resume", true)
	v.SetDefault("job_store", defaultJobStore())
	v.SetDefault("output_format", "")
	v.SetDefault("overwrite", false)
	v.SetDefault("credentials_file", "")
	v.SetDefault("glossary", "")
	v.SetDefault("debug", false)
	v.SetDefault("log_file", "")
}

func defaultJobStore() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "book-translator", "jobs.db")
	}
	return ".translator-jobs"
}

func apiKeyFromEnv(provider string) string {
	switch provider {
	case "openai", "openai-compatible", "compat":
		return os.Getenv("OPENAI_API_KEY")
	case "gemini", "vertex":
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	if c.TargetLang == "" {
		return fmt.Errorf("target language must be specified")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.Chunk.Enabled && c.Chunk.Limit <= 0 {
		return fmt.Errorf("chunk limit must be positive, got %d", c.Chunk.Limit)
	}
	if c.Chunk.MinSize < 0 || c.Chunk.SearchWindow < 0 {
		return fmt.Errorf("chunk window and minimum size must not be negative")
	}
	if c.Retry.MaxRetries < 0 || c.Retry.ContentRetries < 0 {
		return fmt.Errorf("retry counts must not be negative")
	}
	if c.Suffix == "" {
		return fmt.Errorf("suffix must not be empty")
	}
	if c.OutputFormat != "" {
		if _, err := document.ParseFormat(c.OutputFormat); err != nil {
			return err
		}
	}
	return nil
}

// Options 转换为一次任务的不可变配置
func (c *Config) Options() translator.Options {
	return translator.Options{
		Unit: unit.Options{
			Chunk: chunker.Options{
				Limit:        c.Chunk.Limit,
				SearchWindow: c.Chunk.SearchWindow,
				MinChunkSize: c.Chunk.MinSize,
			},
			ChunkingEnabled: c.Chunk.Enabled,
		},
		Concurrency: c.Concurrency,
		Suffix:      c.Suffix,
		SourceLang:  c.SourceLang,
		TargetLang:  c.TargetLang,
		Resume:      c.Resume,
	}
}

// RetryPolicy 转换为客户端重试配置
func (c *Config) RetryPolicy() transform.RetryConfig {
	return transform.RetryConfig{
		MaxRetries:     c.Retry.MaxRetries,
		ContentRetries: c.Retry.ContentRetries,
		InitialDelay:   c.Retry.InitialDelay,
		MaxDelay:       c.Retry.MaxDelay,
		BackoffFactor:  c.Retry.BackoffFactor,
	}
}

// ProviderOptions 转换为后端配置，配置了术语表时把术语追加到说明中
func (c *Config) ProviderOptions() (providers.Config, error) {
	p := c.Provider
	pc := providers.Config{
		Name:            p.Name,
		Model:           p.Model,
		APIKey:          p.APIKey,
		BaseURL:         p.BaseURL,
		SourceLang:      c.SourceLang,
		TargetLang:      c.TargetLang,
		Temperature:     p.Temperature,
		MaxTokens:       p.MaxTokens,
		Timeout:         p.Timeout,
		Project:         p.Project,
		Region:          p.Region,
		CredentialsFile: p.CredentialsFile,
		Instruction:     p.Instruction,
	}
	if c.Glossary == "" {
		return pc, nil
	}
	g, err := LoadGlossary(c.Glossary)
	if err != nil {
		return pc, err
	}
	if !g.Matches(c.SourceLang, c.TargetLang) {
		return pc, fmt.Errorf("glossary %s is for %s -> %s, job is %s -> %s",
			c.Glossary, g.SourceLang, g.TargetLang, c.SourceLang, c.TargetLang)
	}
	pc.Instruction = strings.TrimSpace(pc.Instruction + "\n\n" + g.Instruction())
	return pc, nil
}
