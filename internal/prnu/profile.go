package prnu

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile modes.
const (
	ModeStrict   = "strict"
	ModeAdaptive = "adaptive/from_calibration"
)

// ConsistentLimits are the bounds a consistent single-camera video meets.
type ConsistentLimits struct {
	MeanMin float64 `json:"mean_min" yaml:"mean_min"`
	StdMax  float64 `json:"std_max" yaml:"std_max"`
	MADMax  float64 `json:"mad_max" yaml:"mad_max"`
}

// TamperingLimits are the bounds past which a metric suggests tampering.
type TamperingLimits struct {
	MeanMax float64 `json:"mean_max" yaml:"mean_max"`
	StdMin  float64 `json:"std_min" yaml:"std_min"`
	MADMin  float64 `json:"mad_min" yaml:"mad_min"`
}

// ThresholdProfile is the pair of limit sets used to judge PRNU statistics.
// It is a value type; callers share it by copy.
type ThresholdProfile struct {
	Name       string           `json:"name" yaml:"name"`
	Mode       string           `json:"mode" yaml:"mode"`
	Consistent ConsistentLimits `json:"consistent" yaml:"consistent"`
	Tampering  TamperingLimits  `json:"tampering" yaml:"tampering"`
	Videos     int              `json:"videos,omitempty" yaml:"videos,omitempty"`
	CreatedAt  time.Time        `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

// StrictProfile returns the built-in fixed thresholds.
func StrictProfile() ThresholdProfile {
	return ThresholdProfile{
		Name: ModeStrict,
		Mode: ModeStrict,
		Consistent: ConsistentLimits{
			MeanMin: 0.025,
			StdMax:  0.05,
			MADMax:  0.03,
		},
		Tampering: TamperingLimits{
			MeanMax: 0.018,
			StdMin:  0.06,
			MADMin:  0.05,
		},
	}
}

// Adaptive reports whether the profile came from calibration.
func (p ThresholdProfile) Adaptive() bool {
	return p.Mode == ModeAdaptive
}

// SaveProfile writes p to path as YAML.
func SaveProfile(p ThresholdProfile, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadProfile reads a profile written by SaveProfile.
func LoadProfile(path string) (ThresholdProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ThresholdProfile{}, err
	}
	var p ThresholdProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return ThresholdProfile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if p.Mode == "" {
		p.Mode = ModeAdaptive
	}
	return p, nil
}
