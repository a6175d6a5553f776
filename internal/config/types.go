package config

import (
	"strings"
)

// WebhookPrefix is the only accepted webhook namespace. Anything else is
// rejected at load/reload time and notifications stay disabled.
const WebhookPrefix = "https://hooks.slack.com/services/"

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Notify holds the webhook target and the field selection rules.
	Notify NotifyConfig `json:"notify"`

	// Scanner controls the periodic failure-log scan.
	Scanner ScannerConfig `json:"scanner"`

	Storage StorageConfig `json:"storage"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NotifyConfig mirrors the administrator-facing settings. Field lists are
// canonical comma-separated strings (split on comma, trimmed, empties dropped).
type NotifyConfig struct {
	// Webhook must start with WebhookPrefix. Empty means notifications are
	// disabled and scan passes are silently skipped.
	Webhook   string `json:"webhook" validate:"omitempty,startswith=https://hooks.slack.com/services/"`
	SiteTitle string `json:"site_title"`

	// GlobalFields is the fallback field list for forms without an override.
	GlobalFields string `json:"global_fields"`

	// Forms maps a form name to its per-form settings. Lookup is
	// case-insensitive and ignores whitespace inside the name.
	Forms map[string]FormConfig `json:"forms,omitempty"`

	// Timeout bounds a single webhook POST. Go duration string, default "8s".
	Timeout string `json:"timeout,omitempty"`

	// RatePerSec throttles webhook sends within a pass. Default 1.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type FormConfig struct {
	// Fields is a canonical comma-separated field list. An empty string falls
	// back to the global list.
	Fields string `json:"fields"`
}

// ScannerConfig controls the trigger cadence and the trailing scan window.
//
// Window must exceed the trigger interval so a failed delivery gets at least
// one retry opportunity on the next pass.
type ScannerConfig struct {
	// Spec is a cron spec or @every expression for the periodic pass.
	// Default "@every 5m".
	Spec string `json:"spec,omitempty"`

	// Window is the trailing time span scanned each pass. Go duration string,
	// default "10m".
	Window string `json:"window,omitempty"`

	// Timezone is the IANA location for cron evaluation, e.g. "America/Los_Angeles".
	Timezone string `json:"timezone,omitempty"`
}

type StorageConfig struct {
	// Path to the sqlite database holding the form plugin's tables.
	Path string `json:"path" validate:"required"`

	// TablePrefix matches the form plugin's table naming, e.g. "wp_".
	TablePrefix string `json:"table_prefix,omitempty"`

	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// ---- Derived, per-pass view ----

// FieldRules is the immutable field-selection view used by one pass.
// Override keys are normalized once here, not per event.
type FieldRules struct {
	Global    []string
	overrides map[string][]string
}

// NormalizeFormName lowercases and strips all whitespace so that
// " Contact Form " and "contactform" address the same override entry.
func NormalizeFormName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.ContainsAny(name, " \t\r\n") {
		return name
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch r {
		case ' ', '\t', '\r', '\n':
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SplitFields turns a comma-separated field list into its canonical slice
// form: trimmed entries, empties dropped, order preserved, duplicates removed.
func SplitFields(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k := strings.ToLower(p)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

// FieldRules resolves the notify section into a per-pass lookup structure.
func (n NotifyConfig) FieldRules() FieldRules {
	global := n.GlobalFields
	if strings.TrimSpace(global) == "" {
		global = "name,email"
	}
	r := FieldRules{
		Global:    SplitFields(global),
		overrides: make(map[string][]string, len(n.Forms)),
	}
	for name, fc := range n.Forms {
		key := NormalizeFormName(name)
		if key == "" {
			continue
		}
		// An override entry with an empty field string falls back to global.
		if strings.TrimSpace(fc.Fields) == "" {
			continue
		}
		r.overrides[key] = SplitFields(fc.Fields)
	}
	return r
}

// FieldsFor returns the ordered field list for the given raw form name.
func (r FieldRules) FieldsFor(formName string) []string {
	if key := NormalizeFormName(formName); key != "" {
		if fields, ok := r.overrides[key]; ok && len(fields) > 0 {
			return fields
		}
	}
	return r.Global
}

// WebhookEnabled reports whether the webhook is present and inside the
// accepted namespace. The pipeline treats anything else as "disabled".
func (n NotifyConfig) WebhookEnabled() bool {
	w := strings.TrimSpace(n.Webhook)
	return w != "" && strings.HasPrefix(w, WebhookPrefix)
}
