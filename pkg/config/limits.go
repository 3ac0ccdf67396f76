package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LimitsProfile is the operational limits profile: rate limiting, bulkhead
// bounds, breaker tuning and autoscaler thresholds. Operators override the
// defaults with a YAML file; omitted fields keep their default.
type LimitsProfile struct {
	Name       string           `yaml:"name" json:"name"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" json:"rate_limit"`
	IPLimit    IPLimitConfig    `yaml:"ip_limit" json:"ip_limit"`
	Bulkhead   BulkheadConfig   `yaml:"bulkhead" json:"bulkhead"`
	Breaker    BreakerConfig    `yaml:"breaker" json:"breaker"`
	Autoscaler AutoscalerConfig `yaml:"autoscaler" json:"autoscaler"`
}

// RateLimitConfig bounds per-tenant request admission.
type RateLimitConfig struct {
	RequestsPerWindow int `yaml:"requests_per_window" json:"requests_per_window"`
	WindowSeconds     int `yaml:"window_seconds" json:"window_seconds"`
}

// IPLimitConfig bounds per-IP request admission in front of everything.
type IPLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int `yaml:"burst" json:"burst"`
}

// BulkheadConfig bounds in-flight and queued work.
type BulkheadConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
	MaxQueued     int `yaml:"max_queued" json:"max_queued"`
}

// BreakerConfig tunes the broker circuit breaker.
type BreakerConfig struct {
	FailureThreshold  int `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeoutMs int `yaml:"recovery_timeout_ms" json:"recovery_timeout_ms"`
}

// AutoscalerConfig holds the scaling decision thresholds.
type AutoscalerConfig struct {
	CPUUpPct      float64 `yaml:"cpu_up_pct" json:"cpu_up_pct"`
	CPUDownPct    float64 `yaml:"cpu_down_pct" json:"cpu_down_pct"`
	LatencyUpMs   float64 `yaml:"latency_up_ms" json:"latency_up_ms"`
	FailureRateUp float64 `yaml:"failure_rate_up" json:"failure_rate_up"`
	QueueDepthUp  int     `yaml:"queue_depth_up" json:"queue_depth_up"`
	MinReplicas   int     `yaml:"min_replicas" json:"min_replicas"`
	MaxReplicas   int     `yaml:"max_replicas" json:"max_replicas"`
}

// DefaultLimits returns the stock profile.
func DefaultLimits() *LimitsProfile {
	return &LimitsProfile{
		Name:      "default",
		RateLimit: RateLimitConfig{RequestsPerWindow: 100, WindowSeconds: 60},
		IPLimit:   IPLimitConfig{RequestsPerSecond: 50, Burst: 100},
		Bulkhead:  BulkheadConfig{MaxConcurrent: 10, MaxQueued: 50},
		Breaker:   BreakerConfig{FailureThreshold: 5, RecoveryTimeoutMs: 30000},
		Autoscaler: AutoscalerConfig{
			CPUUpPct:      70.0,
			CPUDownPct:    30.0,
			LatencyUpMs:   500.0,
			FailureRateUp: 0.05,
			QueueDepthUp:  50,
			MinReplicas:   1,
			MaxReplicas:   20,
		},
	}
}

// LoadLimits reads a YAML limits profile over the defaults. An empty path
// returns the defaults unchanged.
func LoadLimits(path string) (*LimitsProfile, error) {
	limits := DefaultLimits()
	if path == "" {
		return limits, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load limits profile: %w", err)
	}
	if err := yaml.Unmarshal(data, limits); err != nil {
		return nil, fmt.Errorf("parse limits profile %q: %w", path, err)
	}
	return limits, nil
}
