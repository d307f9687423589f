package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	CORSOrigins  string        `env:"CORS_ORIGINS"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Per-analysis workspaces are created under WorkDir. Empty means os.TempDir().
	WorkDir string `env:"WORK_DIR"`

	// Fetch stage
	YTDLPPath    string        `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"0s"`
	S3           S3Config

	// Normalize stage
	FFmpegPath      string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	SampleRate      int    `env:"NORMALIZE_SAMPLE_RATE" envDefault:"0"`
	Channels        int    `env:"NORMALIZE_CHANNELS" envDefault:"0"`
	PreprocessAudio bool   `env:"PREPROCESS_AUDIO" envDefault:"false"`

	// Transcribe stage
	STTProvider       string        `env:"STT_PROVIDER" envDefault:"whisper"`
	WhisperURL        string        `env:"WHISPER_URL" envDefault:"http://localhost:8000/v1/audio/transcriptions"`
	WhisperModel      string        `env:"WHISPER_MODEL" envDefault:"Systran/faster-whisper-small"`
	WhisperTimeout    time.Duration `env:"WHISPER_TIMEOUT" envDefault:"5m"`
	WhisperLanguage   string        `env:"WHISPER_LANGUAGE"`
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIModel       string        `env:"OPENAI_MODEL" envDefault:"whisper-1"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	DeepInfraAPIKey   string        `env:"DEEPINFRA_API_KEY"`
	DeepInfraModel    string        `env:"DEEPINFRA_MODEL" envDefault:"openai/whisper-large-v3-turbo"`
	ElevenLabsAPIKey  string        `env:"ELEVENLABS_API_KEY"`
	ElevenLabsModel   string        `env:"ELEVENLABS_MODEL" envDefault:"scribe_v1"`
	ElevenLabsKeyterm string        `env:"ELEVENLABS_KEYTERMS"`

	// Classify stage
	LangIDMinConfidence float64 `env:"LANGID_MIN_CONFIDENCE" envDefault:"0"`

	// Pipeline pool
	PipelineWorkers   int `env:"PIPELINE_WORKERS" envDefault:"2"`
	PipelineQueueSize int `env:"PIPELINE_QUEUE_SIZE" envDefault:"16"`

	// MQTT (optional)
	MQTTBrokerURL      string `env:"MQTT_BROKER_URL"`
	MQTTClientID       string `env:"MQTT_CLIENT_ID" envDefault:"accent-engine"`
	MQTTUsername       string `env:"MQTT_USERNAME"`
	MQTTPassword       string `env:"MQTT_PASSWORD"`
	MQTTTopicPrefix    string `env:"MQTT_TOPIC_PREFIX" envDefault:"accent"`
	MQTTAcceptRequests bool   `env:"MQTT_ACCEPT_REQUESTS" envDefault:"false"`

	EventRingSize int `env:"EVENT_RING_SIZE" envDefault:"256"`

	// Watch folder (optional). Media files dropped into WatchDir are analyzed.
	WatchDir        string        `env:"WATCH_DIR"`
	WatchExtensions string        `env:"WATCH_EXTENSIONS" envDefault:"mp4,mkv,webm,mov,m4a,mp3,wav,ogg,opus,flac"`
	WatchBackfill   bool          `env:"WATCH_BACKFILL" envDefault:"false"`
	WatchSettle     time.Duration `env:"WATCH_SETTLE" envDefault:"2s"`
}

// S3Config holds credentials for fetching s3:// sources.
type S3Config struct {
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"S3_ENDPOINT"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
}

// StaticCredentials reports whether explicit S3 keys were configured.
// Without them the default AWS credential chain is used.
func (c S3Config) StaticCredentials() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	WorkDir     string
	STTProvider string
	WhisperURL  string
	WatchDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.WorkDir != "" {
		cfg.WorkDir = overrides.WorkDir
	}
	if overrides.STTProvider != "" {
		cfg.STTProvider = overrides.STTProvider
	}
	if overrides.WhisperURL != "" {
		cfg.WhisperURL = overrides.WhisperURL
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}

	cfg.STTProvider = strings.ToLower(strings.TrimSpace(cfg.STTProvider))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected STT provider has what it needs and that
// pool sizing is sane.
func (c *Config) Validate() error {
	switch c.STTProvider {
	case "whisper":
		if c.WhisperURL == "" {
			return fmt.Errorf("STT_PROVIDER=whisper requires WHISPER_URL")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("STT_PROVIDER=openai requires OPENAI_API_KEY")
		}
	case "deepinfra":
		if c.DeepInfraAPIKey == "" {
			return fmt.Errorf("STT_PROVIDER=deepinfra requires DEEPINFRA_API_KEY")
		}
	case "elevenlabs":
		if c.ElevenLabsAPIKey == "" {
			return fmt.Errorf("STT_PROVIDER=elevenlabs requires ELEVENLABS_API_KEY")
		}
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q (want whisper, openai, deepinfra or elevenlabs)", c.STTProvider)
	}
	if c.PipelineWorkers < 1 {
		return fmt.Errorf("PIPELINE_WORKERS must be >= 1, got %d", c.PipelineWorkers)
	}
	if c.PipelineQueueSize < 0 {
		return fmt.Errorf("PIPELINE_QUEUE_SIZE must be >= 0, got %d", c.PipelineQueueSize)
	}
	if c.LangIDMinConfidence < 0 || c.LangIDMinConfidence > 1 {
		return fmt.Errorf("LANGID_MIN_CONFIDENCE must be within [0,1], got %v", c.LangIDMinConfidence)
	}
	if c.WatchDir != "" && len(c.WatchExtensionList()) == 0 {
		return fmt.Errorf("WATCH_DIR is set but WATCH_EXTENSIONS is empty")
	}
	return nil
}

// CORSOriginList splits CORS_ORIGINS on commas.
func (c *Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// WatchExtensionList returns WATCH_EXTENSIONS lowercased, without dots.
func (c *Config) WatchExtensionList() []string {
	var out []string
	for _, e := range strings.Split(c.WatchExtensions, ",") {
		e = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(e)), ".")
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
