package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// EvidencePath is the root directory browsed for evidence files
	EvidencePath string `yaml:"evidence_path"`

	// DataDir holds the SQLite database and exported threshold profiles
	DataDir string `yaml:"data_dir"`

	// ReportDir is where JSON reports are written
	ReportDir string `yaml:"report_dir"`

	// WatchDir is a drop folder; new video files are queued for analysis.
	// Empty disables the watcher.
	WatchDir string `yaml:"watch_dir"`

	// WatchSettle is how long a dropped file's size must stay unchanged
	// before it is queued (default 5s)
	WatchSettle time.Duration `yaml:"watch_settle"`

	// ProbeCacheTTL bounds how long browse listings reuse ffprobe results
	ProbeCacheTTL time.Duration `yaml:"probe_cache_ttl"`

	// Workers is the number of concurrent analyses (default 1)
	Workers int `yaml:"workers"`

	// FFmpegPath is the path to ffmpeg binary (default: "ffmpeg")
	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath is the path to ffprobe binary (default: "ffprobe")
	FFprobePath string `yaml:"ffprobe_path"`

	// ProbeTimeout bounds every ffprobe invocation (default 30s)
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json"
	LogFormat string `yaml:"log_format"`

	// ThresholdProfile selects the PRNU thresholds: "strict" or the name of
	// a calibrated profile stored in the database.
	ThresholdProfile string `yaml:"threshold_profile"`

	Sampler    SamplerConfig   `yaml:"sampler"`
	Extractors ExtractorConfig `yaml:"extractors"`
	Scoring    ScoringConfig   `yaml:"scoring"`
	PRNU       PRNUConfig      `yaml:"prnu"`
	Fusion     FusionConfig    `yaml:"fusion"`
}

// SamplerConfig bounds frame sampling cost.
type SamplerConfig struct {
	MaxSamples    int     `yaml:"max_samples"`
	Scale         float64 `yaml:"scale"`          // working resolution relative to native
	MinDimension  int     `yaml:"min_dimension"`  // floor for the working resolution
	GateThreshold float64 `yaml:"gate_threshold"` // mean abs luma diff a frame must exceed to count as changed
}

// ExtractorConfig holds per-frame extractor parameters.
type ExtractorConfig struct {
	ELAQualities       []int   `yaml:"ela_qualities"`
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`
	MotionWindow       int     `yaml:"motion_window"`
	MotionK            float64 `yaml:"motion_k"`
	MotionMinMean      float64 `yaml:"motion_min_mean"`
	DCTEvery           int     `yaml:"dct_every"`
	DCTSpikeFactor     float64 `yaml:"dct_spike_factor"`
	SceneThreshold     float64 `yaml:"scene_duplicate_threshold"`
}

// ScoringConfig holds the heuristic suspicion thresholds.
type ScoringConfig struct {
	ELAStd          float64 `yaml:"ela_std"`
	NoiseStd        float64 `yaml:"noise_std"`
	DuplicateRate   float64 `yaml:"duplicate_rate"`
	MotionAnomalies int     `yaml:"motion_anomalies"`
	DoubleCompRate  float64 `yaml:"double_compression_rate"`
	GOPIrregularity float64 `yaml:"gop_cv"`
	MinGOPKeyframes int     `yaml:"min_gop_keyframes"`
}

// PRNUConfig configures the sensor fingerprint estimator.
type PRNUConfig struct {
	MinFrames         int    `yaml:"min_frames"`
	WorkingSize       int    `yaml:"working_size"`
	FrameEvery        int    `yaml:"frame_every"`
	Denoiser          string `yaml:"denoiser"`
	WaveletLevels     int    `yaml:"wavelet_levels"`
	MotionWeights     bool   `yaml:"motion_weights"`
	CalibrationFrames int    `yaml:"calibration_frames"` // per reference video
	CalibrationJobs   int    `yaml:"calibration_jobs"`   // reference videos processed in parallel
}

// FusionConfig holds the logistic fusion weights.
type FusionConfig struct {
	GOP  float64 `yaml:"gop"`
	Dup  float64 `yaml:"duplicates"`
	Cut  float64 `yaml:"cuts"`
	Meta float64 `yaml:"metadata"`
	PRNU float64 `yaml:"prnu"`
	Bias float64 `yaml:"bias"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		EvidencePath:     "/evidence",
		DataDir:          "data",
		ReportDir:        "reports",
		Workers:          1,
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		ProbeTimeout:     30 * time.Second,
		WatchSettle:      5 * time.Second,
		ProbeCacheTTL:    10 * time.Minute,
		LogLevel:         "info",
		LogFormat:        "text",
		ThresholdProfile: "strict",
		Sampler: SamplerConfig{
			MaxSamples:    500,
			Scale:         0.5,
			MinDimension:  64,
			GateThreshold: 1.0,
		},
		Extractors: ExtractorConfig{
			ELAQualities:       []int{75, 85, 95},
			DuplicateThreshold: 0.9,
			MotionWindow:       12,
			MotionK:            3.8,
			MotionMinMean:      0.08,
			DCTEvery:           5,
			DCTSpikeFactor:     7,
			SceneThreshold:     0.4,
		},
		Scoring: ScoringConfig{
			ELAStd:          9.5,
			NoiseStd:        80,
			DuplicateRate:   2.5,
			MotionAnomalies: 2,
			DoubleCompRate:  25,
			GOPIrregularity: 1.3,
			MinGOPKeyframes: 4,
		},
		PRNU: PRNUConfig{
			MinFrames:         15,
			WorkingSize:       256,
			FrameEvery:        5,
			Denoiser:          DefaultDenoiser,
			WaveletLevels:     2,
			MotionWeights:     true,
			CalibrationFrames: 200,
			CalibrationJobs:   2,
		},
		Fusion: FusionConfig{
			GOP:  2.4,
			Dup:  1.8,
			Cut:  1.4,
			Meta: 1.2,
			PRNU: 1.6,
			Bias: -2.5,
		},
	}
}

// Load reads config from a YAML file, applying defaults for missing values
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file - use defaults
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	d := DefaultConfig()

	if c.FFmpegPath == "" {
		c.FFmpegPath = d.FFmpegPath
	}
	if c.FFprobePath == "" {
		c.FFprobePath = d.FFprobePath
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	if c.WatchSettle <= 0 {
		c.WatchSettle = d.WatchSettle
	}
	if c.ProbeCacheTTL <= 0 {
		c.ProbeCacheTTL = d.ProbeCacheTTL
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.ThresholdProfile == "" {
		c.ThresholdProfile = d.ThresholdProfile
	}
	if c.Sampler.MaxSamples <= 0 {
		c.Sampler.MaxSamples = d.Sampler.MaxSamples
	}
	if c.Sampler.Scale <= 0 || c.Sampler.Scale > 1 {
		c.Sampler.Scale = d.Sampler.Scale
	}
	if c.Sampler.MinDimension <= 0 {
		c.Sampler.MinDimension = d.Sampler.MinDimension
	}
	if len(c.Extractors.ELAQualities) == 0 {
		c.Extractors.ELAQualities = d.Extractors.ELAQualities
	}
	if c.Extractors.MotionWindow <= 1 {
		c.Extractors.MotionWindow = d.Extractors.MotionWindow
	}
	if c.Extractors.DCTEvery <= 0 {
		c.Extractors.DCTEvery = d.Extractors.DCTEvery
	}
	if c.PRNU.MinFrames <= 0 {
		c.PRNU.MinFrames = d.PRNU.MinFrames
	}
	if c.PRNU.WorkingSize < 32 {
		c.PRNU.WorkingSize = d.PRNU.WorkingSize
	}
	if c.PRNU.FrameEvery <= 0 {
		c.PRNU.FrameEvery = d.PRNU.FrameEvery
	}
	if c.PRNU.WaveletLevels <= 0 {
		c.PRNU.WaveletLevels = d.PRNU.WaveletLevels
	}
	if c.PRNU.CalibrationFrames < c.PRNU.MinFrames {
		c.PRNU.CalibrationFrames = max(d.PRNU.CalibrationFrames, c.PRNU.MinFrames)
	}
	if c.PRNU.CalibrationJobs < 1 {
		c.PRNU.CalibrationJobs = d.PRNU.CalibrationJobs
	}
	c.PRNU.Denoiser = ValidateDenoiser(c.PRNU.Denoiser)
}

// MaxWaveletLevels bounds the PRNU wavelet decomposition depth.
const MaxWaveletLevels = 6

// Validate reports settings that cannot be repaired with a default.
func (c *Config) Validate() error {
	if !IsValidLogFormat(c.LogFormat) {
		return fmt.Errorf("invalid log_format %q (want one of %v)", c.LogFormat, ValidLogFormats)
	}
	if len(c.Extractors.ELAQualities) == 0 {
		return fmt.Errorf("ela_qualities must list at least one quality")
	}
	for _, q := range c.Extractors.ELAQualities {
		if q < 1 || q > 100 {
			return fmt.Errorf("invalid ela quality %d (want 1-100)", q)
		}
	}
	if c.PRNU.WaveletLevels < 1 || c.PRNU.WaveletLevels > MaxWaveletLevels {
		return fmt.Errorf("invalid prnu wavelet_levels %d (want 1-%d)", c.PRNU.WaveletLevels, MaxWaveletLevels)
	}
	if c.PRNU.WorkingSize <= 0 || c.PRNU.WorkingSize%(1<<c.PRNU.WaveletLevels) != 0 {
		return fmt.Errorf("prnu working_size %d must be divisible by 2^wavelet_levels", c.PRNU.WorkingSize)
	}
	return nil
}

// Save writes the config to a YAML file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DatabasePath returns the SQLite file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "vidproof.db")
}
