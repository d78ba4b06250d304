package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.Username, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Pass string `mapstructure:"pass"`
}

type TTSConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Voice   string `mapstructure:"voice"`
	OutDir  string `mapstructure:"out_dir"`
}

type OpenAIConfig struct {
	APIURL string `mapstructure:"api_url"`
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type OllamaConfig struct {
	URLs  []string `mapstructure:"urls"`
	Model string   `mapstructure:"model"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
	Ollama OllamaConfig `mapstructure:"ollama"`
	Gemini GeminiConfig `mapstructure:"gemini"`
}

type DialogueConfig struct {
	// fixed delay before a device's captcha single-flight flag is released;
	// intentionally unrelated to audio playback completion
	CaptchaReleaseDelayMS int `mapstructure:"captcha_release_delay_ms"`
	// window of the per-session recent-tool-call record
	ToolRecencyWindowSec int `mapstructure:"tool_recency_window_sec"`
	HistoryLimit         int `mapstructure:"history_limit"`
	MsgTTLMins           int `mapstructure:"msg_ttl_mins"`
}

func (d DialogueConfig) CaptchaReleaseDelay() time.Duration {
	if d.CaptchaReleaseDelayMS <= 0 {
		return time.Second
	}
	return time.Duration(d.CaptchaReleaseDelayMS) * time.Millisecond
}

func (d DialogueConfig) ToolRecencyWindow() time.Duration {
	if d.ToolRecencyWindowSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(d.ToolRecencyWindowSec) * time.Second
}

type Settings struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	TTS       TTSConfig       `mapstructure:"tts"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Dialogue  DialogueConfig  `mapstructure:"dialogue"`
	Env       string          `mapstructure:"env"`
	Debug     bool            `mapstructure:"debug"`
}

func Load() (*Settings, error) {
	viper.SetConfigName("config_" + genEnv())
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &settings, nil
}

func genEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
