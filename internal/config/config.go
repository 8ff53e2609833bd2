// Package config loads the detector service configuration with viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/SyedDaiam9101/detector-service/internal/admission"
	"github.com/SyedDaiam9101/detector-service/internal/detection"
	"github.com/SyedDaiam9101/detector-service/internal/imageio"
	"github.com/SyedDaiam9101/detector-service/internal/inference"
)

// EnvPrefix is the prefix of the service-specific environment variables.
const EnvPrefix = "DETECTOR"

// Config holds all configuration for the service and the camera loop
type Config struct {
	// Server configuration
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`
	GRPCPort    int `mapstructure:"grpc_port"`

	// Model configuration
	ModelPath      string `mapstructure:"model_path"`
	ClassNames     string `mapstructure:"class_names"`
	ONNXRuntimeLib string `mapstructure:"onnxruntime_lib"`
	Device         string `mapstructure:"device"`

	// Default detector parameters
	Conf    float64 `mapstructure:"conf"`
	IoU     float64 `mapstructure:"iou"`
	ImgSize int     `mapstructure:"imgsz"`

	// Request limits
	APIKey           string        `mapstructure:"api_key"`
	MaxImageBytes    int64         `mapstructure:"max_image_bytes"`
	InferConcurrency int           `mapstructure:"infer_concurrency"`
	InferMaxWaiters  int           `mapstructure:"infer_max_waiters"`
	InferWaitTimeout time.Duration `mapstructure:"infer_wait_timeout"`

	// Result cache
	Redis    string        `mapstructure:"redis"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Logging
	LogLevel       string `mapstructure:"log_level"`
	LogDevelopment bool   `mapstructure:"log_development"`

	// Feature flags
	UseMockInference bool `mapstructure:"use_mock_inference"`

	// Live camera loop
	CamIndex        int     `mapstructure:"cam_index"`
	CamIoU          float64 `mapstructure:"cam_iou"`
	TargetClassID   string  `mapstructure:"target_class_id"`
	PickStrategy    string  `mapstructure:"pick_strategy"`
	MinBoxArea      float64 `mapstructure:"min_box_area"`
	MaxDetections   int     `mapstructure:"max_detections"`
	AreaAfterCutoff bool    `mapstructure:"area_after_cutoff"`
	WindowName      string  `mapstructure:"window_name"`
}

// envBindings lists, per key, the accepted environment variable names in
// priority order. Bare names are kept for deployments that predate the prefix.
var envBindings = map[string][]string{
	"port":               {"DETECTOR_PORT", "PORT"},
	"metrics_port":       {"DETECTOR_METRICS_PORT"},
	"grpc_port":          {"DETECTOR_GRPC_PORT"},
	"model_path":         {"DETECTOR_MODEL_PATH", "MODEL_PATH"},
	"class_names":        {"DETECTOR_CLASS_NAMES", "CLASS_NAMES"},
	"onnxruntime_lib":    {"DETECTOR_ONNXRUNTIME_LIB", "ONNXRUNTIME_LIB"},
	"device":             {"DETECTOR_DEVICE", "DEVICE"},
	"conf":               {"DETECTOR_CONF", "CONF"},
	"iou":                {"DETECTOR_IOU", "IOU"},
	"imgsz":              {"DETECTOR_IMGSZ", "IMGSZ"},
	"api_key":            {"DETECTOR_API_KEY", "API_KEY"},
	"max_image_bytes":    {"DETECTOR_MAX_IMAGE_BYTES", "MAX_IMAGE_BYTES"},
	"infer_concurrency":  {"DETECTOR_INFER_CONCURRENCY", "INFER_CONCURRENCY"},
	"infer_max_waiters":  {"DETECTOR_INFER_MAX_WAITERS", "INFER_MAX_WAITERS"},
	"infer_wait_timeout": {"DETECTOR_INFER_WAIT_TIMEOUT", "INFER_WAIT_TIMEOUT"},
	"redis":              {"DETECTOR_REDIS", "REDIS_ADDR"},
	"cache_ttl":          {"DETECTOR_CACHE_TTL", "CACHE_TTL"},
	"otel_enabled":       {"DETECTOR_OTEL_ENABLED"},
	"otel_endpoint":      {"DETECTOR_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"},
	"log_level":          {"DETECTOR_LOG_LEVEL", "LOG_LEVEL"},
	"log_development":    {"DETECTOR_LOG_DEVELOPMENT", "LOG_DEVELOPMENT"},
	"use_mock_inference": {"DETECTOR_USE_MOCK"},
	"cam_index":          {"DETECTOR_CAM_INDEX", "CAM_INDEX"},
	"cam_iou":            {"DETECTOR_CAM_IOU", "CAM_IOU"},
	"target_class_id":    {"DETECTOR_TARGET_CLASS_ID", "TARGET_CLASS_ID"},
	"pick_strategy":      {"DETECTOR_PICK_STRATEGY", "PICK_STRATEGY"},
	"min_box_area":       {"DETECTOR_MIN_BOX_AREA", "MIN_BOX_AREA"},
	"max_detections":     {"DETECTOR_MAX_DETECTIONS", "MAX_DETECTIONS"},
	"area_after_cutoff":  {"DETECTOR_AREA_AFTER_CUTOFF", "AREA_AFTER_CUTOFF"},
	"window_name":        {"DETECTOR_WINDOW_NAME", "WINDOW_NAME"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8000)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("grpc_port", 50051)
	v.SetDefault("model_path", "models/yolov8m.onnx")
	v.SetDefault("class_names", "")
	v.SetDefault("onnxruntime_lib", "")
	v.SetDefault("device", "")
	v.SetDefault("conf", 0.25)
	v.SetDefault("iou", 0.45)
	v.SetDefault("imgsz", 640)
	v.SetDefault("api_key", "")
	v.SetDefault("max_image_bytes", imageio.DefaultMaxBytes)
	v.SetDefault("infer_concurrency", 1)
	v.SetDefault("infer_max_waiters", 0)
	v.SetDefault("infer_wait_timeout", "0s")
	v.SetDefault("redis", "")
	v.SetDefault("cache_ttl", "10m")
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_development", false)
	v.SetDefault("use_mock_inference", false)
	v.SetDefault("cam_index", 0)
	v.SetDefault("cam_iou", 0.7)
	v.SetDefault("target_class_id", "0")
	v.SetDefault("pick_strategy", string(detection.RankConfidence))
	v.SetDefault("min_box_area", 0.0)
	v.SetDefault("max_detections", 1)
	v.SetDefault("area_after_cutoff", false)
	v.SetDefault("window_name", "Detections")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range envBindings {
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
	return v
}

// Load loads configuration from environment variables and an optional config file.
// Priority (highest to lowest): env vars > config file > defaults. Flags are
// applied by the caller through Override.
func Load() (*Config, error) {
	v := newViper()

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/detector-service/")
	v.AddConfigPath("$HOME/.detector-service")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// LoadWithConfigFile loads configuration from a specific config file
func LoadWithConfigFile(configPath string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper treats an empty variable as unset; here it means "no class filter".
	for _, name := range envBindings["target_class_id"] {
		if val, ok := os.LookupEnv(name); ok {
			cfg.TargetClassID = val
			break
		}
	}

	if cfg.InferConcurrency < 1 {
		cfg.InferConcurrency = 1
	}
	return &cfg, nil
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment.
// Variables that are already set are left untouched. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading env file %s: %w", path, err)
	}

	for _, key := range v.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, v.GetString(key)); err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validPort("port", c.Port); err != nil {
		return err
	}
	if err := validPort("metrics port", c.MetricsPort); err != nil {
		return err
	}
	if c.GRPCPort != 0 {
		if err := validPort("grpc port", c.GRPCPort); err != nil {
			return err
		}
		if c.GRPCPort == c.Port || c.GRPCPort == c.MetricsPort {
			return fmt.Errorf("grpc_port must differ from port and metrics_port")
		}
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics_port must be different")
	}
	if c.ModelPath == "" && !c.UseMockInference {
		return fmt.Errorf("model path is required when not using mock inference")
	}
	if err := c.validateParams(); err != nil {
		return err
	}
	if c.IoU < 0 || c.IoU > 1 {
		return fmt.Errorf("invalid iou: %g (must be in [0,1])", c.IoU)
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("invalid max_image_bytes: %d", c.MaxImageBytes)
	}
	if c.InferMaxWaiters < 0 {
		return fmt.Errorf("invalid infer_max_waiters: %d", c.InferMaxWaiters)
	}
	if c.InferWaitTimeout < 0 {
		return fmt.Errorf("invalid infer_wait_timeout: %s", c.InferWaitTimeout)
	}
	if _, err := c.TargetClass(); err != nil {
		return err
	}
	return nil
}

// ValidateCamera validates the settings the live camera loop uses. Server
// ports and limits are not checked.
func (c *Config) ValidateCamera() error {
	if c.ModelPath == "" {
		return fmt.Errorf("model path is required")
	}
	if err := c.validateParams(); err != nil {
		return err
	}
	if c.CamIoU < 0 || c.CamIoU > 1 {
		return fmt.Errorf("invalid cam_iou: %g (must be in [0,1])", c.CamIoU)
	}
	if c.CamIndex < 0 {
		return fmt.Errorf("invalid cam_index: %d", c.CamIndex)
	}
	_, err := c.Policy()
	return err
}

func (c *Config) validateParams() error {
	if c.Conf < 0 || c.Conf > 1 {
		return fmt.Errorf("invalid conf: %g (must be in [0,1])", c.Conf)
	}
	if c.ImgSize < 32 || c.ImgSize > 2048 {
		return fmt.Errorf("invalid imgsz: %d (must be in [32,2048])", c.ImgSize)
	}
	return nil
}

// ResolvePaths makes relative model and class name paths relative to baseDir.
func (c *Config) ResolvePaths(baseDir string) {
	c.ModelPath = resolvePath(baseDir, c.ModelPath)
	c.ClassNames = resolvePath(baseDir, c.ClassNames)
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s: %d", name, port)
	}
	return nil
}

// TargetClass returns the class filter of the live loop, or nil when unset.
func (c *Config) TargetClass() (*int, error) {
	s := strings.TrimSpace(c.TargetClassID)
	if s == "" {
		return nil, nil
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid target_class_id %q: %w", c.TargetClassID, err)
	}
	return &id, nil
}

// Policy builds the live loop selection policy.
func (c *Config) Policy() (detection.Policy, error) {
	target, err := c.TargetClass()
	if err != nil {
		return detection.Policy{}, err
	}
	return detection.Policy{
		TargetClass:     target,
		Rank:            detection.ParseRankMode(c.PickStrategy),
		MinArea:         c.MinBoxArea,
		MaxCount:        c.MaxDetections,
		AreaAfterCutoff: c.AreaAfterCutoff,
	}, nil
}

// Params returns the default detector parameters.
func (c *Config) Params() inference.Params {
	return inference.Params{Conf: c.Conf, IoU: c.IoU, ImgSize: c.ImgSize}
}

// CameraParams returns the detector parameters of the live camera loop,
// which uses its own IoU threshold.
func (c *Config) CameraParams() inference.Params {
	return inference.Params{Conf: c.Conf, IoU: c.CamIoU, ImgSize: c.ImgSize}
}

// AdmissionOptions returns the admission controller settings.
func (c *Config) AdmissionOptions() admission.Options {
	return admission.Options{
		Capacity:    c.InferConcurrency,
		MaxWaiters:  c.InferMaxWaiters,
		WaitTimeout: c.InferWaitTimeout,
	}
}

// ModelName is the file name reported as the serving model.
func (c *Config) ModelName() string {
	return filepath.Base(c.ModelPath)
}
