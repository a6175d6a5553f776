package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultScanSpec   = "@every 5m"
	DefaultWindow     = 10 * time.Minute
	DefaultTimeout    = 8 * time.Second
	DefaultRatePerSec = 1
)

var validate = validator.New()

// Validate rejects configs the pipeline must never see. A rejected reload
// keeps the previous config; a rejected initial load is fatal.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Durations must at least parse; defaults are applied by the readers.
	timeout, err := ParseDurationOrDefault("notify.timeout", cfg.Notify.Timeout, DefaultTimeout)
	if err != nil {
		return err
	}
	if timeout == 0 {
		return fmt.Errorf("notify.timeout: must be > 0")
	}
	window, err := ParseDurationOrDefault("scanner.window", cfg.Scanner.Window, DefaultWindow)
	if err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}

	if tz := strings.TrimSpace(cfg.Scanner.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scanner.timezone: %w", err)
		}
	}

	// Retries are emergent from overlapping windows, so a window shorter than
	// the scan interval would drop events that failed delivery once.
	if interval, ok := everyInterval(cfg.Scanner.Spec); ok && window <= interval {
		return fmt.Errorf("scanner.window (%s) must exceed the scan interval (%s)", window, interval)
	}

	return nil
}

// everyInterval extracts the interval from an "@every <duration>" spec.
// Plain cron specs return false; the window check is skipped for those.
func everyInterval(spec string) (time.Duration, bool) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultScanSpec
	}
	rest, ok := strings.CutPrefix(spec, "@every ")
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(rest))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
