package config

import "time"

// Config represents the subsystem configuration (recall.yaml)
type Config struct {
	Name      string          `yaml:"name" json:"name"`
	Version   string          `yaml:"version" json:"version"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	Audit     AuditConfig     `yaml:"audit" json:"audit"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// StoreConfig configures the relational store of record.
type StoreConfig struct {
	Driver       string `yaml:"driver" json:"driver"` // sqlite
	Path         string `yaml:"path" json:"path"`     // database file path
	OpTimeout    string `yaml:"op_timeout" json:"op_timeout"`       // per-operation deadline, e.g. "5s"
	BusyTimeout  string `yaml:"busy_timeout" json:"busy_timeout"`   // sqlite busy handler window
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`
}

// CacheConfig configures the hot-entry cache in front of the store.
type CacheConfig struct {
	MaxCost     int64  `yaml:"max_cost" json:"max_cost"`         // capacity bound in entries
	NumCounters int64  `yaml:"num_counters" json:"num_counters"` // admission counters (~10x max cost)
	SlidingTTL  string `yaml:"sliding_ttl" json:"sliding_ttl"`   // resets on access
	AbsoluteTTL string `yaml:"absolute_ttl" json:"absolute_ttl"` // staleness cap, never extended
	TailSize    int    `yaml:"tail_size" json:"tail_size"`       // cached recent messages per session
}

// EmbeddingConfig configures the vector index.
type EmbeddingConfig struct {
	Dimension int    `yaml:"dimension" json:"dimension"`
	Scope     string `yaml:"scope" json:"scope"` // "session" or "user" recall scope
}

// AuditConfig configures the action audit log.
type AuditConfig struct {
	BufferCapacity int    `yaml:"buffer_capacity" json:"buffer_capacity"` // in-memory overflow bound
	FlushInterval  string `yaml:"flush_interval" json:"flush_interval"`
	Retention      string `yaml:"retention" json:"retention"` // how long entries survive in the store, "" = keep forever
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"` // debug, info, warn, error
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
}

// OpTimeout returns the parsed per-operation deadline.
func (s StoreConfig) OpTimeoutDuration() time.Duration {
	return parseDuration(s.OpTimeout, 5*time.Second)
}

// BusyTimeoutDuration returns the parsed sqlite busy window.
func (s StoreConfig) BusyTimeoutDuration() time.Duration {
	return parseDuration(s.BusyTimeout, 5*time.Second)
}

// SlidingTTLDuration returns the parsed sliding TTL.
func (c CacheConfig) SlidingTTLDuration() time.Duration {
	return parseDuration(c.SlidingTTL, 15*time.Minute)
}

// AbsoluteTTLDuration returns the parsed absolute lifetime cap.
func (c CacheConfig) AbsoluteTTLDuration() time.Duration {
	return parseDuration(c.AbsoluteTTL, time.Hour)
}

// FlushIntervalDuration returns the parsed audit flush interval.
func (a AuditConfig) FlushIntervalDuration() time.Duration {
	return parseDuration(a.FlushInterval, 5*time.Second)
}

// RetentionDuration returns the parsed audit retention, 0 = keep forever.
func (a AuditConfig) RetentionDuration() time.Duration {
	return parseDuration(a.Retention, 0)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
