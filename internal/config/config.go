// Package config provides application configuration management.
package config

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oszuidwest/zwfm-micprivacy/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort          = 8080
	DefaultStationName      = "ZuidWest FM"
	DefaultDevice           = "mic_privacy"
	DefaultPolicy           = "fw_managed"
	DefaultDMAZeroingWaitMs = 50
	DefaultPeriodMs         = 10
	DefaultSampleRate       = 48000
	DefaultToneHz           = 1000.0
	DefaultStream           = "dmic0"
	DefaultArchivePrefix    = "micprivacy"
)

// validate is the shared validator instance for configuration checks.
var validate = validator.New(validator.WithRequiredStructEnabled())

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	Port        int    `json:"port" validate:"gte=1,lte=65535"`                      // HTTP server port
	StationName string `json:"station_name" validate:"required,max=30"`              // Station display name
	APIKey      string `json:"api_key" validate:"omitempty,alphanum,min=16,max=128"` // API key for privacy controls
}

// PrivacyConfig holds the privacy block strapping.
type PrivacyConfig struct {
	Device           string `json:"device" validate:"required,max=64"`             // Privacy port device name
	Policy           string `json:"policy" validate:"oneof=hw_managed fw_managed"` // Enforcement policy
	DMAZeroingWaitMs uint64 `json:"dma_zeroing_wait_ms" validate:"lte=4294967295"` // DMA data zeroing wait time
	PolicyRegister   uint32 `json:"policy_register"`                               // Raw policy register (0 = derive from policy)
}

// CaptureConfig holds capture stream settings.
type CaptureConfig struct {
	Streams    []string `json:"streams" validate:"min=1,dive,required,max=64"`        // Capture stream IDs
	PeriodMs   int      `json:"period_ms" validate:"gte=1,lte=1000"`                  // Copy period
	SampleRate int      `json:"sample_rate" validate:"oneof=16000 44100 48000 96000"` // Sample rate in Hz
	ToneHz     float64  `json:"tone_hz" validate:"gt=0,lt=20000"`                     // Test tone frequency
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"` // Webhook URL for privacy changes
}

// EmailConfig holds Microsoft Graph email notification settings.
type EmailConfig struct {
	TenantID     string `json:"tenant_id" validate:"omitempty,max=100"`     // Azure AD tenant ID
	ClientID     string `json:"client_id" validate:"omitempty,max=100"`     // App registration client ID
	ClientSecret string `json:"client_secret" validate:"omitempty,max=500"` // App registration client secret
	FromAddress  string `json:"from_address" validate:"omitempty,max=254"`  // Shared mailbox sender address
	Recipients   string `json:"recipients" validate:"omitempty,max=1000"`   // Comma-separated recipient addresses
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook"`
	Email   EmailConfig   `json:"email"`
}

// EventLogConfig holds the event journal location.
type EventLogConfig struct {
	Path string `json:"path"` // Empty = platform default
}

// ArchiveConfig holds S3 archival settings for the event log.
type ArchiveConfig struct {
	Endpoint        string `json:"s3_endpoint" validate:"omitempty,max=2048"`
	Bucket          string `json:"s3_bucket" validate:"omitempty,max=63"`
	AccessKeyID     string `json:"s3_access_key_id" validate:"omitempty,max=128"`
	SecretAccessKey string `json:"s3_secret_access_key" validate:"omitempty,max=256"`
	Prefix          string `json:"prefix" validate:"omitempty,max=256"`
	IntervalMinutes int    `json:"interval_minutes" validate:"gte=0,lte=10080"` // 0 = upload on shutdown only
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system"`
	Privacy       PrivacyConfig       `json:"privacy"`
	Capture       CaptureConfig       `json:"capture"`
	Notifications NotificationsConfig `json:"notifications"`
	EventLog      EventLogConfig      `json:"eventlog"`
	Archive       ArchiveConfig       `json:"archive"`

	mu       sync.RWMutex
	filePath string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		if c.System.APIKey == "" {
			key, err := GenerateAPIKey()
			if err != nil {
				return util.WrapError("generate API key", err)
			}
			c.System.APIKey = key
		}
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, e := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s'", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return util.WrapError("validate config", err)
	}
	if c.EventLog.Path != "" {
		if err := util.ValidatePath("eventlog.path", c.EventLog.Path); err != nil {
			return err
		}
	}
	return nil
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	if c.System.StationName == "" {
		c.System.StationName = DefaultStationName
	}
	if c.Privacy.Device == "" {
		c.Privacy.Device = DefaultDevice
	}
	if c.Privacy.Policy == "" {
		c.Privacy.Policy = DefaultPolicy
	}
	if c.Privacy.DMAZeroingWaitMs == 0 {
		c.Privacy.DMAZeroingWaitMs = DefaultDMAZeroingWaitMs
	}
	if len(c.Capture.Streams) == 0 {
		c.Capture.Streams = []string{DefaultStream}
	}
	if c.Capture.PeriodMs == 0 {
		c.Capture.PeriodMs = DefaultPeriodMs
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = DefaultSampleRate
	}
	if c.Capture.ToneHz == 0 {
		c.Capture.ToneHz = DefaultToneHz
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = DefaultArchivePrefix
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values.
type Snapshot struct {
	// System
	WebPort     int
	StationName string
	APIKey      string

	// Privacy
	Device           string
	Policy           string
	DMAZeroingWaitMs uint64
	PolicyRegister   uint32

	// Capture
	Streams    []string
	Period     time.Duration
	SampleRate int
	ToneHz     float64

	// Notifications
	WebhookURL        string
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphFromAddress  string
	GraphRecipients   string

	// Event log
	EventLogPath string

	// Archive
	S3Endpoint        string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	ArchivePrefix     string
	ArchiveInterval   time.Duration
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		WebPort:     c.System.Port,
		StationName: c.System.StationName,
		APIKey:      c.System.APIKey,

		Device:           c.Privacy.Device,
		Policy:           c.Privacy.Policy,
		DMAZeroingWaitMs: c.Privacy.DMAZeroingWaitMs,
		PolicyRegister:   c.Privacy.PolicyRegister,

		Streams:    slices.Clone(c.Capture.Streams),
		Period:     time.Duration(c.Capture.PeriodMs) * time.Millisecond,
		SampleRate: c.Capture.SampleRate,
		ToneHz:     c.Capture.ToneHz,

		WebhookURL:        c.Notifications.Webhook.URL,
		GraphTenantID:     c.Notifications.Email.TenantID,
		GraphClientID:     c.Notifications.Email.ClientID,
		GraphClientSecret: c.Notifications.Email.ClientSecret,
		GraphFromAddress:  c.Notifications.Email.FromAddress,
		GraphRecipients:   c.Notifications.Email.Recipients,

		EventLogPath: c.EventLog.Path,

		S3Endpoint:        c.Archive.Endpoint,
		S3Bucket:          c.Archive.Bucket,
		S3AccessKeyID:     c.Archive.AccessKeyID,
		S3SecretAccessKey: c.Archive.SecretAccessKey,
		ArchivePrefix:     c.Archive.Prefix,
		ArchiveInterval:   time.Duration(c.Archive.IntervalMinutes) * time.Minute,
	}
}

// PeriodFrames returns the number of frames copied per period.
func (s *Snapshot) PeriodFrames() int {
	return max(s.SampleRate*int(s.Period/time.Millisecond)/1000, 1)
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasGraph reports whether Microsoft Graph email notifications are configured.
func (s *Snapshot) HasGraph() bool {
	return util.IsConfigured(s.GraphTenantID, s.GraphClientID, s.GraphClientSecret, s.GraphFromAddress, s.GraphRecipients)
}

// HasArchive reports whether S3 archival is configured.
func (s *Snapshot) HasArchive() bool {
	return util.IsConfigured(s.S3Bucket, s.S3AccessKeyID, s.S3SecretAccessKey)
}

// GenerateAPIKey returns a random 32-character alphanumeric key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
