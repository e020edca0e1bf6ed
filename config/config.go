package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tutortoise/facial-attribute-service/detections"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string `validate:"required"`
	HTTPAddr string `validate:"required,hostname_port"`

	ModelPath   string `validate:"required"`
	LibPath     string
	Accelerator string `validate:"oneof=cpu cuda dml coreml openvino"`
	DeviceID    int    `validate:"gte=0"`

	EmbeddingOutputs []string
	NormalizeMean    []float64 `validate:"len=3,dive,gte=0,lte=1"`
	NormalizeStd     []float64 `validate:"len=3,dive,gt=0"`

	DispatchInterval time.Duration `validate:"gt=0"`
	RenderInterval   time.Duration `validate:"gt=0"`

	FrameDir      string
	FrameInterval time.Duration `validate:"gt=0"`

	IngestRate  float64 `validate:"gt=0"`
	IngestBurst int     `validate:"gt=0"`

	RedisAddress  string `validate:"omitempty,hostname_port"`
	RedisPassword string
	RedisDB       int    `validate:"gte=0"`
	RedisKey      string `validate:"required"`
	RedisTTL      time.Duration

	LogDir       string
	LogLevel     string `validate:"oneof=trace debug info warn warning error"`
	Debug        bool
	ErrorLogRate float64 `validate:"gt=0"`
}

// Load reads .env files (when present) and then the environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading env file: %w", err)
	}

	var errs []error
	cfg := &Config{
		AppEnv:           getString("APP_ENV", "development"),
		HTTPAddr:         getString("HTTP_ADDR", "127.0.0.1:8080"),
		ModelPath:        getString("MODEL_PATH", "../models/facial_attributes.onnx"),
		LibPath:          getString("ORT_LIB_PATH", ""),
		Accelerator:      strings.ToLower(getString("ACCELERATOR", "cpu")),
		DeviceID:         getInt("DEVICE_ID", 0, &errs),
		EmbeddingOutputs: getList("EMBEDDING_OUTPUTS", []string{"id_feature"}),
		NormalizeMean:    getFloatList("NORMALIZE_MEAN", []float64{0.485, 0.456, 0.406}, &errs),
		NormalizeStd:     getFloatList("NORMALIZE_STD", []float64{0.229, 0.224, 0.225}, &errs),
		DispatchInterval: getDuration("DISPATCH_INTERVAL", 33*time.Millisecond, &errs),
		RenderInterval:   getDuration("RENDER_INTERVAL", 33*time.Millisecond, &errs),
		FrameDir:         getString("FRAME_DIR", ""),
		FrameInterval:    getDuration("FRAME_INTERVAL", 33*time.Millisecond, &errs),
		IngestRate:       getFloat("INGEST_RATE", 60, &errs),
		IngestBurst:      getInt("INGEST_BURST", 30, &errs),
		RedisAddress:     getString("REDIS_ADDRESS", ""),
		RedisPassword:    getString("REDIS_PASSWORD", ""),
		RedisDB:          getInt("REDIS_DB", 0, &errs),
		RedisKey:         getString("REDIS_KEY", "facial-attributes:latest"),
		RedisTTL:         getDuration("REDIS_TTL", 10*time.Second, &errs),
		LogDir:           getString("LOG_DIR", "./storage/logs"),
		LogLevel:         strings.ToLower(getString("LOG_LEVEL", "info")),
		Debug:            getBool("DEBUG", false, &errs),
		ErrorLogRate:     getFloat("ERROR_LOG_RATE", 1, &errs),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Normalization converts the validated mean/std lists for the pipeline.
func (c *Config) Normalization() detections.Normalization {
	var n detections.Normalization
	for i := 0; i < detections.InputChannels; i++ {
		n.Mean[i] = float32(c.NormalizeMean[i])
		n.Std[i] = float32(c.NormalizeStd[i])
	}
	return n
}

func (c *Config) RedisEnabled() bool {
	return c.RedisAddress != ""
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func getFloatList(key string, def []float64, errs *[]error) []float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []float64
	for _, part := range strings.Split(v, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
			return def
		}
		out = append(out, f)
	}
	return out
}

func getInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func getFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func getBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
