package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed pipeline.yaml
var pipelineYAML []byte

// Document photo handling during registration.
const (
	DocumentRequired = "required"
	DocumentOptional = "optional"
)

// Detector square fit modes.
const (
	FitLetterbox = "letterbox"
	FitCover     = "cover"
)

// Score normalization policies for detector score tensors.
const (
	ScoreNormalizationAuto   = "auto"
	ScoreNormalizationAlways = "always"
	ScoreNormalizationNever  = "never"
)

const defaultDeviceSecret = "faceclock-device-secret"

type Config struct {
	Database    DatabaseConfig
	Inference   InferenceConfig
	Pipeline    PipelineConfig
	DeviceKey   string // HMAC key for device fingerprints
	ProfilePath string // Calibration profile applied on top of the embedded thresholds (optional)
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist template HNSW index (optional, if empty index is rebuilt on startup)
}

type InferenceConfig struct {
	URL          string        // defaults to http://localhost:8000
	Timeout      time.Duration // per model call
	QueueSize    int           // pending model calls before callers start waiting
	QueueTimeout time.Duration // how long a caller waits for a queue slot
}

// PipelineConfig holds the numeric operating parameters of the face pipeline.
type PipelineConfig struct {
	Quality      QualityConfig      `yaml:"quality"`
	Detection    DetectionConfig    `yaml:"detection"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Enrollment   EnrollmentConfig   `yaml:"enrollment"`
	Verification VerificationConfig `yaml:"verification"`
	Risk         RiskConfig         `yaml:"risk"`
	Attendance   AttendanceConfig   `yaml:"attendance"`
	Device       DeviceConfig       `yaml:"device"`
	Calibration  CalibrationConfig  `yaml:"calibration"`
}

type QualityConfig struct {
	MinImageWidth           int     `yaml:"min_image_width"`
	MinImageWidthStrict     int     `yaml:"min_image_width_strict"`
	BrightnessMin           float64 `yaml:"brightness_min"`
	BrightnessMax           float64 `yaml:"brightness_max"`
	BrightnessRejectLow     float64 `yaml:"brightness_reject_low"`  // factor of BrightnessMin below which frames are rejected
	BrightnessRejectHigh    float64 `yaml:"brightness_reject_high"` // factor of BrightnessMax above which frames are rejected
	BrightnessMaxCorrection float64 `yaml:"brightness_max_correction"`
	BlurThreshold           float64 `yaml:"blur_threshold"`
	BlurThresholdStrict     float64 `yaml:"blur_threshold_strict"`
	BlurThresholdLowCamera  float64 `yaml:"blur_threshold_low_camera"`
	VeryBlurryVariance      float64 `yaml:"very_blurry_variance"`
	EnhanceMinRatio         float64 `yaml:"enhance_min_ratio"` // below this share of the blur threshold only aggressive enhancement is tried
	SharpnessScale          float64 `yaml:"sharpness_scale"`
	LowCameraWidth          int     `yaml:"low_camera_width"`
}

type DetectionConfig struct {
	InputSize              int     `yaml:"input_size"`
	CanonicalSize          int     `yaml:"canonical_size"`
	FitMode                string  `yaml:"fit_mode"`
	Strides                []int   `yaml:"strides"`
	AnchorsPerCell         int     `yaml:"anchors_per_cell"`
	ScoreThresholdLive     float64 `yaml:"score_threshold_live"`
	ScoreThresholdDocument float64 `yaml:"score_threshold_document"`
	ScoreNormalization     string  `yaml:"score_normalization"`
	MinFaceWidth           float64 `yaml:"min_face_width"`
	MinFaceWidthStrict     float64 `yaml:"min_face_width_strict"`
	MaxFaceSize            float64 `yaml:"max_face_size"`
	NMSIoUThreshold        float64 `yaml:"nms_iou_threshold"`
}

type EmbeddingConfig struct {
	InputSize  int     `yaml:"input_size"`
	Dim        int     `yaml:"dim"`
	CropMargin float64 `yaml:"crop_margin"`
}

type EnrollmentConfig struct {
	Photos         int    `yaml:"photos"`
	Quorum         int    `yaml:"quorum"`
	DocumentPolicy string `yaml:"document_policy"`
}

type VerificationConfig struct {
	DailyThreshold             float64      `yaml:"daily_threshold"`
	EnrollmentThreshold        float64      `yaml:"enrollment_threshold"`
	EnrollmentThresholdLowTier float64      `yaml:"enrollment_threshold_low_tier"`
	SameDeviceThreshold        float64      `yaml:"same_device_threshold"`
	IdentifyHighConfidence     float64      `yaml:"identify_high_confidence"`
	IdentifyMinGap             float64      `yaml:"identify_min_gap"`
	IdentifyCandidates         int          `yaml:"identify_candidates"`
	TemporalMinSimilarity      float64      `yaml:"temporal_min_similarity"`
	TemporalWindowHours        int          `yaml:"temporal_window_hours"`
	TemporalLimit              int          `yaml:"temporal_limit"`
	DeviceWindowDays           int          `yaml:"device_window_days"`
	DeviceLimit                int          `yaml:"device_limit"`
	Fusion                     FusionConfig `yaml:"fusion"`
}

type FusionConfig struct {
	Face     float64 `yaml:"face"`
	Temporal float64 `yaml:"temporal"`
	Device   float64 `yaml:"device"`
	Location float64 `yaml:"location"`
}

type RiskConfig struct {
	Weights       RiskWeights `yaml:"weights"`
	Levels        RiskLevels  `yaml:"levels"`
	SevereQuality float64     `yaml:"severe_quality"`
}

type RiskWeights struct {
	Face      float64 `yaml:"face"`
	Quality   float64 `yaml:"quality"`
	Temporal  float64 `yaml:"temporal"`
	Device    float64 `yaml:"device"`
	Location  float64 `yaml:"location"`
	Landmarks float64 `yaml:"landmarks"`
}

type RiskLevels struct {
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

type AttendanceConfig struct {
	ClockInExpected  string `yaml:"clock_in_expected"` // HH:MM local time
	ToleranceMinutes int    `yaml:"tolerance_minutes"`
}

type DeviceConfig struct {
	HistorySize  int     `yaml:"history_size"`
	MinSamples   int     `yaml:"min_samples"`
	LowWidth     float64 `yaml:"low_width"`
	LowVariance  float64 `yaml:"low_variance"`
	LowScore     float64 `yaml:"low_score"`
	HighWidth    float64 `yaml:"high_width"`
	HighVariance float64 `yaml:"high_variance"`
	HighScore    float64 `yaml:"high_score"`
}

type CalibrationConfig struct {
	EERStep          float64   `yaml:"eer_step"`
	FARTargets       []float64 `yaml:"far_targets"`
	FRRTargets       []float64 `yaml:"frr_targets"`
	EnrollmentMargin float64   `yaml:"enrollment_margin"`
	MinSeparation    float64   `yaml:"min_separation"`
	Workers          int       `yaml:"workers"`
}

// ThresholdProfile is the subset of a calibration profile file that feeds verification.
type ThresholdProfile struct {
	Alarm       bool `yaml:"alarm"`
	Recommended struct {
		Daily      float64 `yaml:"daily"`
		Enrollment float64 `yaml:"enrollment"`
	} `yaml:"recommended"`
}

// DefaultPipeline returns the embedded pipeline defaults.
func DefaultPipeline() PipelineConfig {
	var p PipelineConfig
	if err := yaml.Unmarshal(pipelineYAML, &p); err != nil {
		// Embedded file, so this only fails on a broken build.
		panic("failed to unmarshal embedded pipeline.yaml: " + err.Error())
	}
	return p
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envString returns the env var value or the default when unset.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	pipeline := DefaultPipeline()
	pipeline.Enrollment.DocumentPolicy = envString("ENROLLMENT_DOCUMENT_POLICY", pipeline.Enrollment.DocumentPolicy)
	pipeline.Detection.FitMode = envString("PREPROCESS_FIT_MODE", pipeline.Detection.FitMode)
	pipeline.Detection.ScoreNormalization = envString("SCORE_NORMALIZATION", pipeline.Detection.ScoreNormalization)

	return &Config{
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Inference: InferenceConfig{
			URL:          os.Getenv("INFERENCE_URL"),
			Timeout:      time.Duration(envInt("INFERENCE_TIMEOUT_SECONDS", 30)) * time.Second,
			QueueSize:    envInt("INFERENCE_QUEUE_SIZE", 16),
			QueueTimeout: time.Duration(envInt("INFERENCE_QUEUE_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Pipeline:    pipeline,
		DeviceKey:   envString("DEVICE_FINGERPRINT_SECRET", defaultDeviceSecret),
		ProfilePath: os.Getenv("THRESHOLD_PROFILE_PATH"),
	}
}

// LoadThresholdProfile reads a calibration profile written by `faceclock calibrate`.
func LoadThresholdProfile(path string) (*ThresholdProfile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("reading threshold profile: %w", err)
	}
	var p ThresholdProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing threshold profile: %w", err)
	}
	return &p, nil
}

// ApplyProfile overrides verification thresholds with calibrated values.
// The same-device and low-tier enrollment thresholds keep their offsets from
// daily and enrollment, and never exceed them. A profile flagged with a
// data-quality alarm or missing values leaves the embedded thresholds in
// place and returns false.
func (c *VerificationConfig) ApplyProfile(p *ThresholdProfile) bool {
	if p == nil || p.Alarm {
		return false
	}
	daily, enrollment := p.Recommended.Daily, p.Recommended.Enrollment
	if daily <= 0 || daily >= 1 || enrollment < daily || enrollment >= 1 {
		return false
	}
	sameDeviceOffset := c.SameDeviceThreshold - c.DailyThreshold
	lowTierOffset := c.EnrollmentThresholdLowTier - c.EnrollmentThreshold

	c.DailyThreshold = daily
	c.EnrollmentThreshold = enrollment
	c.SameDeviceThreshold = clampThreshold(daily+sameDeviceOffset, daily)
	c.EnrollmentThresholdLowTier = clampThreshold(enrollment+lowTierOffset, enrollment)
	return true
}

// clampThreshold keeps a derived threshold in (0, ceiling].
func clampThreshold(v, ceiling float64) float64 {
	return max(min(v, ceiling), 0.01)
}
