// Package config loads the engine configuration: the lane set, the green-time
// budget and the sampling cadence.
//
// Optional values are pointers so a partial file keeps the defaults supplied
// by the Get* methods.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where cmd/greenlight looks for its configuration.
const DefaultConfigPath = "config/greenlight.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// LaneConfig names one approach of the intersection and where its frames
// come from. The order of lanes in the file is the engine's iteration order.
type LaneConfig struct {
	Name   string `json:"name" yaml:"name"`
	Source string `json:"source" yaml:"source"` // "dir:<path>", a bare directory, or an http(s) snapshot URL
}

// OracleConfig configures the remote detection backend.
type OracleConfig struct {
	URL              string   `json:"url,omitempty" yaml:"url,omitempty"`
	Timeout          *string  `json:"timeout,omitempty" yaml:"timeout,omitempty"` // duration string like "5s"
	ConfThreshold    *float64 `json:"conf_threshold,omitempty" yaml:"conf_threshold,omitempty"`
	NMSThreshold     *float64 `json:"nms_threshold,omitempty" yaml:"nms_threshold,omitempty"`
	VehicleClasses   []string `json:"vehicle_classes,omitempty" yaml:"vehicle_classes,omitempty"`
	EmergencyClasses []string `json:"emergency_classes,omitempty" yaml:"emergency_classes,omitempty"`
}

// EngineConfig represents the root configuration file.
type EngineConfig struct {
	Lanes []LaneConfig `json:"lanes" yaml:"lanes"`

	// Allocation params
	MinGreen       *int     `json:"min_green,omitempty" yaml:"min_green,omitempty"`
	TotalBudget    *int     `json:"total_budget,omitempty" yaml:"total_budget,omitempty"`
	EmergencyShare *float64 `json:"emergency_share,omitempty" yaml:"emergency_share,omitempty"`

	// Cadence params
	SampleWindow *string `json:"sample_window,omitempty" yaml:"sample_window,omitempty"` // duration string like "1s"
	CycleDelay   *string `json:"cycle_delay,omitempty" yaml:"cycle_delay,omitempty"`     // duration string like "1.5s"

	// Detection params
	MaxCount *int         `json:"max_count,omitempty" yaml:"max_count,omitempty"`
	Oracle   OracleConfig `json:"oracle" yaml:"oracle"`

	// Serving params
	SourcesRoot    string  `json:"sources_root,omitempty" yaml:"sources_root,omitempty"`
	Listen         *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	GRPCListen     string  `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
	MaxUploadBytes *int64  `json:"max_upload_bytes,omitempty" yaml:"max_upload_bytes,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// DefaultEngineConfig returns a config for the four-approach demo
// intersection with every optional value populated.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		Lanes: []LaneConfig{
			{Name: "North", Source: "dir:frames/north"},
			{Name: "South", Source: "dir:frames/south"},
			{Name: "East", Source: "dir:frames/east"},
			{Name: "West", Source: "dir:frames/west"},
		},
		MinGreen:       ptrInt(5),
		TotalBudget:    ptrInt(60),
		EmergencyShare: ptrFloat64(0.7),
		SampleWindow:   ptrString("1s"),
		CycleDelay:     ptrString("1.5s"),
		MaxCount:       ptrInt(50),
		Oracle: OracleConfig{
			Timeout:       ptrString("5s"),
			ConfThreshold: ptrFloat64(0.6),
			NMSThreshold:  ptrFloat64(0.4),
		},
		Listen:         ptrString(":8080"),
		MaxUploadBytes: ptrInt64(10 << 20),
	}
}

// LoadEngineConfig loads an EngineConfig from a .json, .yaml or .yml file.
// Fields omitted from the file fall back to the Get* defaults.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &EngineConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *EngineConfig) Validate() error {
	if len(c.Lanes) == 0 {
		return fmt.Errorf("at least one lane must be configured")
	}
	seen := make(map[string]bool, len(c.Lanes))
	for i, l := range c.Lanes {
		if l.Name == "" {
			return fmt.Errorf("lane %d has no name", i)
		}
		if seen[l.Name] {
			return fmt.Errorf("duplicate lane name %q", l.Name)
		}
		seen[l.Name] = true
		if l.Source == "" {
			return fmt.Errorf("lane %q has no source", l.Name)
		}
	}

	if c.MinGreen != nil && *c.MinGreen <= 0 {
		return fmt.Errorf("min_green must be positive, got %d", *c.MinGreen)
	}
	if c.TotalBudget != nil && *c.TotalBudget <= 0 {
		return fmt.Errorf("total_budget must be positive, got %d", *c.TotalBudget)
	}
	if c.EmergencyShare != nil && (*c.EmergencyShare <= 0 || *c.EmergencyShare >= 1) {
		return fmt.Errorf("emergency_share must be between 0 and 1 (exclusive), got %f", *c.EmergencyShare)
	}
	if need := c.GetMinGreen() * len(c.Lanes); c.GetTotalBudget() < need {
		return fmt.Errorf("total_budget %d cannot give %d lanes min_green %d (needs %d)",
			c.GetTotalBudget(), len(c.Lanes), c.GetMinGreen(), need)
	}

	for name, d := range map[string]*string{
		"sample_window":  c.SampleWindow,
		"cycle_delay":    c.CycleDelay,
		"oracle.timeout": c.Oracle.Timeout,
	} {
		if d == nil || *d == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if parsed < 0 || (parsed == 0 && name != "cycle_delay") {
			return fmt.Errorf("%s must be positive, got %s", name, *d)
		}
	}

	if c.MaxCount != nil && *c.MaxCount <= 0 {
		return fmt.Errorf("max_count must be positive, got %d", *c.MaxCount)
	}
	if c.MaxUploadBytes != nil && *c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", *c.MaxUploadBytes)
	}
	// zero means "default" to the detection backend, so it is not a valid setting
	if t := c.Oracle.ConfThreshold; t != nil && (*t <= 0 || *t >= 1) {
		return fmt.Errorf("oracle.conf_threshold must be between 0 and 1 (exclusive), got %f", *t)
	}
	if t := c.Oracle.NMSThreshold; t != nil && (*t <= 0 || *t > 1) {
		return fmt.Errorf("oracle.nms_threshold must be in (0,1], got %f", *t)
	}
	return nil
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetMinGreen returns the min_green value or the default.
func (c *EngineConfig) GetMinGreen() int {
	if c.MinGreen == nil {
		return 5
	}
	return *c.MinGreen
}

// GetTotalBudget returns the total_budget value or the default.
func (c *EngineConfig) GetTotalBudget() int {
	if c.TotalBudget == nil {
		return 60
	}
	return *c.TotalBudget
}

// GetEmergencyShare returns the emergency_share value or the default.
func (c *EngineConfig) GetEmergencyShare() float64 {
	if c.EmergencyShare == nil {
		return 0.7
	}
	return *c.EmergencyShare
}

// GetSampleWindow returns the sampling window as a time.Duration.
func (c *EngineConfig) GetSampleWindow() time.Duration {
	return parseDurationOr(c.SampleWindow, time.Second)
}

// GetCycleDelay returns the pause between cycles as a time.Duration.
func (c *EngineConfig) GetCycleDelay() time.Duration {
	return parseDurationOr(c.CycleDelay, 1500*time.Millisecond)
}

// GetMaxCount returns the max_count value or the default.
func (c *EngineConfig) GetMaxCount() int {
	if c.MaxCount == nil {
		return 50
	}
	return *c.MaxCount
}

// GetListen returns the HTTP listen address or the default.
func (c *EngineConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetMaxUploadBytes returns the single-shot upload size limit.
func (c *EngineConfig) GetMaxUploadBytes() int64 {
	if c.MaxUploadBytes == nil {
		return 10 << 20
	}
	return *c.MaxUploadBytes
}

// GetOracleTimeout returns the per-request detection timeout.
func (c *EngineConfig) GetOracleTimeout() time.Duration {
	return parseDurationOr(c.Oracle.Timeout, 5*time.Second)
}

// GetConfThreshold returns the oracle confidence threshold or the default.
func (c *EngineConfig) GetConfThreshold() float64 {
	if c.Oracle.ConfThreshold == nil {
		return 0.6
	}
	return *c.Oracle.ConfThreshold
}

// GetNMSThreshold returns the oracle NMS IoU threshold or the default.
func (c *EngineConfig) GetNMSThreshold() float64 {
	if c.Oracle.NMSThreshold == nil {
		return 0.4
	}
	return *c.Oracle.NMSThreshold
}
