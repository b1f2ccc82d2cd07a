package engine

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// Config collects the engine's tunables. Zero values are filled in by
// ApplyDefaults; Validate rejects configurations the engine cannot run with.
type Config struct {
	// TickInterval is the worker loop cadence.
	TickInterval time.Duration `validate:"gt=0"`

	// BatchSize bounds how many due tasks one tick fetches.
	BatchSize int `validate:"gt=0"`

	// ConcurrencyLimit is the group size for concurrent task execution
	// within a batch. Groups run sequentially.
	ConcurrencyLimit int `validate:"gt=0"`

	// MaxAttempts bounds transient retries per task.
	MaxAttempts int `validate:"gt=0"`

	// TriggerSchedule and RetentionSchedule are standard cron expressions
	// for the daily sweeps.
	TriggerSchedule   string `validate:"required"`
	RetentionSchedule string `validate:"required"`

	// TaskRetention and LogRetention are the sweeper windows for terminal
	// tasks and journey entries.
	TaskRetention time.Duration `validate:"gt=0"`
	LogRetention  time.Duration `validate:"gt=0"`

	// UnsubscribeBaseURL is the public base for opt-out links in emails.
	UnsubscribeBaseURL string
}

const (
	DefaultTickInterval     = 30 * time.Second
	DefaultBatchSize        = 100
	DefaultConcurrencyLimit = 10

	DefaultTriggerSchedule   = "0 6 * * *"
	DefaultRetentionSchedule = "30 4 * * *"

	DefaultTaskRetention = 30 * 24 * time.Hour
	DefaultLogRetention  = 90 * 24 * time.Hour
)

var validate = validator.New()

// ApplyDefaults fills unset fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}

	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}

	if c.ConcurrencyLimit == 0 {
		c.ConcurrencyLimit = DefaultConcurrencyLimit
	}

	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}

	if c.TriggerSchedule == "" {
		c.TriggerSchedule = DefaultTriggerSchedule
	}

	if c.RetentionSchedule == "" {
		c.RetentionSchedule = DefaultRetentionSchedule
	}

	if c.TaskRetention == 0 {
		c.TaskRetention = DefaultTaskRetention
	}

	if c.LogRetention == 0 {
		c.LogRetention = DefaultLogRetention
	}
}

// Validate checks struct constraints and that the cron expressions parse.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}

	for _, expr := range []string{c.TriggerSchedule, c.RetentionSchedule} {
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("invalid cron expression '%s': %w", expr, err)
		}
	}

	return nil
}
