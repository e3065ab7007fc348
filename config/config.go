// =============================================================================
// 📦 VoiceFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("VOICEFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 VoiceFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server"`

	// Redis 缓存/成本账本后端配置
	Redis RedisConfig `yaml:"redis"`

	// Database 会话持久化配置
	Database DatabaseConfig `yaml:"database"`

	// Sarvam 默认语音/LLM/翻译供应商配置
	Sarvam ProviderConfig `yaml:"sarvam"`

	// ElevenLabs 高级 TTS 供应商配置（可选）
	ElevenLabs ProviderConfig `yaml:"elevenlabs"`

	// Cache 缓存 TTL 分层配置
	Cache CacheConfig `yaml:"cache"`

	// TTS 合成默认值
	TTS TTSConfig `yaml:"tts"`

	// DefaultOptimizationLevel 默认优化级别
	DefaultOptimizationLevel string `yaml:"default_optimization_level"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig Redis 配置（为空地址时缓存与账本镜像全部降级为直连供应商）
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// DSN 数据库连接串，默认使用本地 SQLite 文件
	DSN string `yaml:"dsn"`
}

// ProviderConfig 外部供应商通用配置
type ProviderConfig struct {
	APIBase string        `yaml:"api_base"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig 缓存 TTL 分层
// 质量档位缓存更久（重新计算代价高），速度档位缓存更短
type CacheConfig struct {
	TTLQuality  time.Duration `yaml:"ttl_quality"`
	TTLBalanced time.Duration `yaml:"ttl_balanced"`
	TTLSpeed    time.Duration `yaml:"ttl_speed"`
}

// TTSConfig 合成默认值
type TTSConfig struct {
	DefaultProvider   string `yaml:"default_provider"`
	DefaultVoiceID    string `yaml:"default_voice_id"`
	DefaultCodec      string `yaml:"default_codec"`
	DefaultSampleRate int    `yaml:"default_sample_rate"`
	FallbackProvider  string `yaml:"fallback_provider"`
	FallbackLanguage  string `yaml:"fallback_language"`
}

// =============================================================================
// 🔧 默认值
// =============================================================================

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "",
			DB:       0,
			PoolSize: 10,
		},
		Database: DatabaseConfig{
			DSN: "voiceflow.db",
		},
		Sarvam: ProviderConfig{
			APIBase: "https://api.sarvam.ai",
			Timeout: 30 * time.Second,
		},
		ElevenLabs: ProviderConfig{
			APIBase: "https://api.elevenlabs.io",
			Timeout: 60 * time.Second,
		},
		Cache: CacheConfig{
			TTLQuality:  30 * time.Minute,
			TTLBalanced: 15 * time.Minute,
			TTLSpeed:    5 * time.Minute,
		},
		TTS: TTSConfig{
			DefaultProvider:   "sarvam",
			DefaultVoiceID:    "anushka",
			DefaultCodec:      "wav",
			DefaultSampleRate: 22050,
			FallbackProvider:  "sarvam",
			FallbackLanguage:  "en-IN",
		},
		DefaultOptimizationLevel: LevelBalanced,
	}
}

// =============================================================================
// 📥 加载器
// =============================================================================

// Loader 配置加载器
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: "VOICEFLOW"}
}

// WithConfigPath 指定 YAML 配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 指定环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load 加载配置: 默认值 → YAML → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	l.applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 应用环境变量覆盖
func (l *Loader) applyEnv(cfg *Config) {
	if v := l.env("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := l.env("SERVER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := l.env("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := l.env("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := l.env("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := l.env("SARVAM_API_BASE"); v != "" {
		cfg.Sarvam.APIBase = v
	}
	if v := l.env("SARVAM_API_KEY"); v != "" {
		cfg.Sarvam.APIKey = v
	}
	if v := l.env("ELEVENLABS_API_BASE"); v != "" {
		cfg.ElevenLabs.APIBase = v
	}
	if v := l.env("ELEVENLABS_API_KEY"); v != "" {
		cfg.ElevenLabs.APIKey = v
	}
	if v := l.env("DEFAULT_OPTIMIZATION_LEVEL"); v != "" {
		cfg.DefaultOptimizationLevel = v
	}
}

func (l *Loader) env(key string) string {
	return os.Getenv(l.envPrefix + "_" + key)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.TTS.DefaultProvider == "" {
		return fmt.Errorf("tts default provider must not be empty")
	}
	if !strings.HasPrefix(c.Sarvam.APIBase, "http") {
		return fmt.Errorf("invalid sarvam api base: %s", c.Sarvam.APIBase)
	}
	return nil
}

// TTLForLevel 根据优化级别返回缓存 TTL
func (c *CacheConfig) TTLForLevel(level string) time.Duration {
	switch level {
	case LevelQuality, LevelBalancedQuality:
		return c.TTLQuality
	case LevelBalancedSpeed, LevelSpeed:
		return c.TTLSpeed
	default:
		return c.TTLBalanced
	}
}
