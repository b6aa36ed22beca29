package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig is the hot-reloadable recognition pipeline configuration.
// It is loaded from a YAML file and re-applied on SIGHUP or an explicit
// reload call; only camera lanes affected by a change are restarted.
type PipelineConfig struct {
	Detection  DetectionConfig  `yaml:"detection"`
	Matching   MatchingConfig   `yaml:"matching"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Cameras    []CameraConfig   `yaml:"cameras"`
}

type DetectionConfig struct {
	// minimum detector confidence; faces below are discarded pre-embedding
	ConfidenceThreshold float32 `yaml:"confidence_threshold"`
}

type MatchingConfig struct {
	// minimum cosine similarity for a positive match
	Threshold float32 `yaml:"threshold"`
	// minimum gap between the best and second-best identity
	MinMargin float32 `yaml:"min_margin"`
}

type DedupConfig struct {
	CooldownSeconds      int `yaml:"cooldown_seconds"`
	IdleEvictionSeconds  int `yaml:"idle_eviction_seconds"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

type IngestConfig struct {
	FrameQueueSize            int `yaml:"frame_queue_size"`
	DefaultSamplingIntervalMS int `yaml:"default_sampling_interval_ms"`
	ReconnectBaseDelayMS      int `yaml:"reconnect_base_delay_ms"`
	ReconnectMaxDelaySeconds  int `yaml:"reconnect_max_delay_seconds"`
	MaxConsecutiveFailures    int `yaml:"max_consecutive_failures"`
}

type DeliveryConfig struct {
	MaxAttempts           int `yaml:"max_attempts"`
	RetryBaseDelayMS      int `yaml:"retry_base_delay_ms"`
	RetryMaxDelaySeconds  int `yaml:"retry_max_delay_seconds"`
	ReplayIntervalSeconds int `yaml:"replay_interval_seconds"`
	QueueSize             int `yaml:"queue_size"`
}

type EnrollmentConfig struct {
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds"`
}

type ScheduleConfig struct {
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds"`
	FinalizeGraceSeconds   int `yaml:"finalize_grace_seconds"`
	TickSeconds            int `yaml:"tick_seconds"`
}

// CameraConfig describes one camera lane. Comparable by value so reload
// diffs can detect changed entries with ==.
type CameraConfig struct {
	ID                 string `yaml:"id"`
	Name               string `yaml:"name"`
	RTSPURL            string `yaml:"rtsp_url"`
	RoomID             string `yaml:"room_id"`
	SamplingIntervalMS int    `yaml:"sampling_interval_ms"`
}

func (d DedupConfig) Cooldown() time.Duration {
	return time.Duration(d.CooldownSeconds) * time.Second
}

func (d DedupConfig) IdleEviction() time.Duration {
	return time.Duration(d.IdleEvictionSeconds) * time.Second
}

func (d DedupConfig) SweepInterval() time.Duration {
	return time.Duration(d.SweepIntervalSeconds) * time.Second
}

func (i IngestConfig) ReconnectBaseDelay() time.Duration {
	return time.Duration(i.ReconnectBaseDelayMS) * time.Millisecond
}
func (i IngestConfig) ReconnectMaxDelay() time.Duration {
	return time.Duration(i.ReconnectMaxDelaySeconds) * time.Second
}

func (d DeliveryConfig) RetryBaseDelay() time.Duration {
	return time.Duration(d.RetryBaseDelayMS) * time.Millisecond
}
func (d DeliveryConfig) RetryMaxDelay() time.Duration {
	return time.Duration(d.RetryMaxDelaySeconds) * time.Second
}
func (d DeliveryConfig) ReplayInterval() time.Duration {
	return time.Duration(d.ReplayIntervalSeconds) * time.Second
}

func (e EnrollmentConfig) RefreshInterval() time.Duration {
	return time.Duration(e.RefreshIntervalSeconds) * time.Second
}

func (s ScheduleConfig) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshIntervalSeconds) * time.Second
}
func (s ScheduleConfig) FinalizeGrace() time.Duration {
	return time.Duration(s.FinalizeGraceSeconds) * time.Second
}
func (s ScheduleConfig) Tick() time.Duration { return time.Duration(s.TickSeconds) * time.Second }

// SamplingInterval resolves the per-camera interval, falling back to the
// ingest default when the camera does not set one.
func (c CameraConfig) SamplingInterval(ingest IngestConfig) time.Duration {
	ms := c.SamplingIntervalMS
	if ms <= 0 {
		ms = ingest.DefaultSamplingIntervalMS
	}
	return time.Duration(ms) * time.Millisecond
}

func (p *PipelineConfig) applyDefaults() {
	if p.Detection.ConfidenceThreshold == 0 {
		p.Detection.ConfidenceThreshold = 0.5
	}
	if p.Matching.Threshold == 0 {
		p.Matching.Threshold = 0.60
	}
	if p.Matching.MinMargin == 0 {
		p.Matching.MinMargin = 0.10
	}
	if p.Dedup.CooldownSeconds == 0 {
		p.Dedup.CooldownSeconds = 600
	}
	if p.Dedup.IdleEvictionSeconds == 0 {
		p.Dedup.IdleEvictionSeconds = 1800
	}
	if p.Dedup.SweepIntervalSeconds == 0 {
		p.Dedup.SweepIntervalSeconds = 300
	}
	if p.Ingest.FrameQueueSize == 0 {
		p.Ingest.FrameQueueSize = 8
	}
	if p.Ingest.DefaultSamplingIntervalMS == 0 {
		p.Ingest.DefaultSamplingIntervalMS = 500
	}
	if p.Ingest.ReconnectBaseDelayMS == 0 {
		p.Ingest.ReconnectBaseDelayMS = 1000
	}
	if p.Ingest.ReconnectMaxDelaySeconds == 0 {
		p.Ingest.ReconnectMaxDelaySeconds = 30
	}
	if p.Ingest.MaxConsecutiveFailures == 0 {
		p.Ingest.MaxConsecutiveFailures = 10
	}
	if p.Delivery.MaxAttempts == 0 {
		p.Delivery.MaxAttempts = 5
	}
	if p.Delivery.RetryBaseDelayMS == 0 {
		p.Delivery.RetryBaseDelayMS = 1000
	}
	if p.Delivery.RetryMaxDelaySeconds == 0 {
		p.Delivery.RetryMaxDelaySeconds = 30
	}
	if p.Delivery.ReplayIntervalSeconds == 0 {
		p.Delivery.ReplayIntervalSeconds = 60
	}
	if p.Delivery.QueueSize == 0 {
		p.Delivery.QueueSize = 256
	}
	if p.Enrollment.RefreshIntervalSeconds == 0 {
		p.Enrollment.RefreshIntervalSeconds = 300
	}
	if p.Schedule.RefreshIntervalSeconds == 0 {
		p.Schedule.RefreshIntervalSeconds = 900
	}
	if p.Schedule.FinalizeGraceSeconds == 0 {
		p.Schedule.FinalizeGraceSeconds = 120
	}
	if p.Schedule.TickSeconds == 0 {
		p.Schedule.TickSeconds = 30
	}
}

// Validate checks the shared pipeline parameters. Per-camera entries are
// validated separately with ValidateCamera so one bad camera only disables
// its own lane.
func (p *PipelineConfig) Validate() error {
	if p.Detection.ConfidenceThreshold <= 0 || p.Detection.ConfidenceThreshold > 1 {
		return fmt.Errorf("detection.confidence_threshold must be in (0, 1], got %v", p.Detection.ConfidenceThreshold)
	}
	if p.Matching.Threshold <= 0 || p.Matching.Threshold > 1 {
		return fmt.Errorf("matching.threshold must be in (0, 1], got %v", p.Matching.Threshold)
	}
	if p.Matching.MinMargin < 0 || p.Matching.MinMargin >= 1 {
		return fmt.Errorf("matching.min_margin must be in [0, 1), got %v", p.Matching.MinMargin)
	}
	if p.Dedup.CooldownSeconds <= 0 {
		return fmt.Errorf("dedup.cooldown_seconds must be positive, got %d", p.Dedup.CooldownSeconds)
	}
	if p.Dedup.IdleEvictionSeconds < p.Dedup.CooldownSeconds {
		return fmt.Errorf("dedup.idle_eviction_seconds (%d) must not be shorter than cooldown_seconds (%d)",
			p.Dedup.IdleEvictionSeconds, p.Dedup.CooldownSeconds)
	}
	if p.Ingest.FrameQueueSize <= 0 {
		return fmt.Errorf("ingest.frame_queue_size must be positive, got %d", p.Ingest.FrameQueueSize)
	}
	if p.Ingest.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("ingest.max_consecutive_failures must be positive, got %d", p.Ingest.MaxConsecutiveFailures)
	}
	if p.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("delivery.max_attempts must be positive, got %d", p.Delivery.MaxAttempts)
	}
	if p.Delivery.QueueSize <= 0 {
		return fmt.Errorf("delivery.queue_size must be positive, got %d", p.Delivery.QueueSize)
	}
	seen := make(map[string]bool, len(p.Cameras))
	for _, cam := range p.Cameras {
		if cam.ID == "" {
			return fmt.Errorf("camera entry with empty id (rtsp_url %q)", cam.RTSPURL)
		}
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = true
	}
	return nil
}

// ValidateCamera checks one camera entry. A failure here is fatal for that
// lane only.
func ValidateCamera(cam CameraConfig) error {
	if cam.ID == "" {
		return fmt.Errorf("camera id is empty")
	}
	if cam.RTSPURL == "" {
		return fmt.Errorf("camera %q has no rtsp_url", cam.ID)
	}
	if cam.RoomID == "" {
		return fmt.Errorf("camera %q has no room_id", cam.ID)
	}
	if cam.SamplingIntervalMS < 0 {
		return fmt.Errorf("camera %q has negative sampling_interval_ms", cam.ID)
	}
	return nil
}

// SharedEqual reports whether the lane-shared parameters (everything except
// the camera list) are identical. When they differ, every lane is affected
// by a reload.
func (p *PipelineConfig) SharedEqual(other *PipelineConfig) bool {
	return p.Detection == other.Detection &&
		p.Matching == other.Matching &&
		p.Dedup == other.Dedup &&
		p.Ingest == other.Ingest &&
		p.Delivery == other.Delivery &&
		p.Enrollment == other.Enrollment &&
		p.Schedule == other.Schedule
}

// CameraByID returns the camera entry with the given id, if present.
func (p *PipelineConfig) CameraByID(id string) (CameraConfig, bool) {
	for _, cam := range p.Cameras {
		if cam.ID == id {
			return cam, true
		}
	}
	return CameraConfig{}, false
}

// LoadPipelineConfig reads, defaults, and validates the pipeline YAML file.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config %s: %w", path, err)
	}
	return ParsePipelineConfig(data)
}

// ParsePipelineConfig parses pipeline YAML from memory.
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	return &cfg, nil
}
