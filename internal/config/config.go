package config

import (
	"fmt"
	"time"
)

// Config holds runtime parameters for the session daemon.
// Zero values mean "unspecified" and are replaced by defaults in Normalize.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Capture / frame buffer
	CaptureFPS      float64 `json:"capture_fps" yaml:"capture_fps" toml:"capture_fps"`
	ChangeThreshold float64 `json:"change_threshold" yaml:"change_threshold" toml:"change_threshold"`
	RingCapacity    int     `json:"ring_capacity" yaml:"ring_capacity" toml:"ring_capacity"`
	PixelTolerance  int     `json:"pixel_tolerance" yaml:"pixel_tolerance" toml:"pixel_tolerance"`
	SampleStride    int     `json:"sample_stride" yaml:"sample_stride" toml:"sample_stride"`
	MinVariance     float64 `json:"min_variance" yaml:"min_variance" toml:"min_variance"`
	BlankVariance   float64 `json:"blank_variance" yaml:"blank_variance" toml:"blank_variance"`

	// Audio
	SampleRate        int `json:"sample_rate" yaml:"sample_rate" toml:"sample_rate"`
	VADAggressiveness int `json:"vad_aggressiveness" yaml:"vad_aggressiveness" toml:"vad_aggressiveness"`
	SilenceMS         int `json:"silence_ms" yaml:"silence_ms" toml:"silence_ms"`
	MaxSegmentMS      int `json:"max_segment_ms" yaml:"max_segment_ms" toml:"max_segment_ms"`

	// Session
	HistoryMax      int `json:"history_max" yaml:"history_max" toml:"history_max"`
	QueueCapacity   int `json:"queue_capacity" yaml:"queue_capacity" toml:"queue_capacity"`
	RetryLimit      int `json:"retry_limit" yaml:"retry_limit" toml:"retry_limit"`
	CollabTimeoutMS int `json:"collab_timeout_ms" yaml:"collab_timeout_ms" toml:"collab_timeout_ms"`
	GraceMS         int `json:"grace_ms" yaml:"grace_ms" toml:"grace_ms"`
	AnnotationTTLMS int `json:"annotation_ttl_ms" yaml:"annotation_ttl_ms" toml:"annotation_ttl_ms"`

	// Diagnostics
	JournalPath string `json:"journal_path" yaml:"journal_path" toml:"journal_path"`
	LogLevel    string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:              ":8090",
		CaptureFPS:        2,
		ChangeThreshold:   0.10,
		RingCapacity:      10,
		PixelTolerance:    16,
		SampleStride:      4,
		MinVariance:       4,
		BlankVariance:     10,
		SampleRate:        16000,
		VADAggressiveness: 2,
		SilenceMS:         500,
		MaxSegmentMS:      30000,
		HistoryMax:        10,
		QueueCapacity:     64,
		RetryLimit:        3,
		CollabTimeoutMS:   15000,
		GraceMS:           3000,
		AnnotationTTLMS:   5000,
		LogLevel:          "info",
	}
}

// Normalize fills unset fields from the defaults.
func (c *Config) Normalize() {
	d := Default()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.CaptureFPS <= 0 {
		c.CaptureFPS = d.CaptureFPS
	}
	if c.ChangeThreshold <= 0 {
		c.ChangeThreshold = d.ChangeThreshold
	}
	if c.RingCapacity <= 0 {
		c.RingCapacity = d.RingCapacity
	}
	if c.PixelTolerance <= 0 {
		c.PixelTolerance = d.PixelTolerance
	}
	if c.SampleStride <= 0 {
		c.SampleStride = d.SampleStride
	}
	if c.MinVariance <= 0 {
		c.MinVariance = d.MinVariance
	}
	if c.BlankVariance <= 0 {
		c.BlankVariance = d.BlankVariance
	}
	if c.SampleRate <= 0 {
		c.SampleRate = d.SampleRate
	}
	if c.SilenceMS <= 0 {
		c.SilenceMS = d.SilenceMS
	}
	if c.MaxSegmentMS <= 0 {
		c.MaxSegmentMS = d.MaxSegmentMS
	}
	if c.HistoryMax <= 0 {
		c.HistoryMax = d.HistoryMax
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.RetryLimit <= 0 {
		c.RetryLimit = d.RetryLimit
	}
	if c.CollabTimeoutMS <= 0 {
		c.CollabTimeoutMS = d.CollabTimeoutMS
	}
	if c.GraceMS <= 0 {
		c.GraceMS = d.GraceMS
	}
	if c.AnnotationTTLMS <= 0 {
		c.AnnotationTTLMS = d.AnnotationTTLMS
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate rejects out-of-range tunables.
func (c Config) Validate() error {
	if c.ChangeThreshold > 1 {
		return fmt.Errorf("change_threshold must be in (0,1], got %v", c.ChangeThreshold)
	}
	if c.VADAggressiveness < 0 || c.VADAggressiveness > 3 {
		return fmt.Errorf("vad_aggressiveness must be 0..3, got %d", c.VADAggressiveness)
	}
	if c.CaptureFPS > 10 {
		return fmt.Errorf("capture_fps must be at most 10, got %v", c.CaptureFPS)
	}
	if c.SilenceMS >= c.MaxSegmentMS {
		return fmt.Errorf("silence_ms (%d) must be below max_segment_ms (%d)", c.SilenceMS, c.MaxSegmentMS)
	}
	return nil
}

// CaptureInterval returns the frame cadence derived from CaptureFPS.
func (c Config) CaptureInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.CaptureFPS)
}

// SilenceDuration returns SilenceMS as a duration.
func (c Config) SilenceDuration() time.Duration {
	return time.Duration(c.SilenceMS) * time.Millisecond
}

// MaxSegmentDuration returns MaxSegmentMS as a duration.
func (c Config) MaxSegmentDuration() time.Duration {
	return time.Duration(c.MaxSegmentMS) * time.Millisecond
}

// CollabTimeout returns CollabTimeoutMS as a duration.
func (c Config) CollabTimeout() time.Duration {
	return time.Duration(c.CollabTimeoutMS) * time.Millisecond
}

// Grace returns GraceMS as a duration.
func (c Config) Grace() time.Duration {
	return time.Duration(c.GraceMS) * time.Millisecond
}

// AnnotationTTL returns AnnotationTTLMS as a duration.
func (c Config) AnnotationTTL() time.Duration {
	return time.Duration(c.AnnotationTTLMS) * time.Millisecond
}
