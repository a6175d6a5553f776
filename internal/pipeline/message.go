package pipeline

import (
	"encoding/json"
	"strings"
	"time"

	// Embedded zone data so Pacific conversion works on hosts without a
	// system tzdata package.
	_ "time/tzdata"

	"formwatch/internal/fields"
)

// Field values longer than this are cut to 197 bytes plus "...".
const fieldValueMax = 200

const timestampLayout = "2006-01-02 03:04 PM"

// pacific is resolved once; conversion falls back to UTC if the zone
// database is unavailable.
var pacific = func() *time.Location {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// ResolvedField is one configured field with its stored value, in configured
// order.
type ResolvedField struct {
	Key   string
	Value string
}

// messageInput carries everything the template needs, already resolved.
type messageInput struct {
	SiteTitle string
	FormName  string
	PageURL   string
	ErrorInfo string
	UserAgent string // already summarized; empty lines are omitted
	Timestamp string
	Fields    []ResolvedField
}

// buildMessage renders the alert text. The template is deterministic: same
// input, same output.
func buildMessage(in messageInput) string {
	var b strings.Builder

	b.WriteString("🚨 *Form Submission Error*\n")
	b.WriteString("*Site:* " + in.SiteTitle + "\n")
	b.WriteString("*Form:* " + orUnknown(in.FormName) + "\n")
	b.WriteString("*Page URL:* " + orUnknown(in.PageURL) + "\n")
	b.WriteString("*Error Message:*\n```" + orUnknown(in.ErrorInfo) + "```\n")

	if in.UserAgent != "" {
		b.WriteString("*User Agent:* " + in.UserAgent + "\n")
	}

	b.WriteString("> *Timestamp:* _" + in.Timestamp + "_\n")

	if len(in.Fields) > 0 {
		b.WriteString("\n*Submission Data:*\n")
		for _, f := range in.Fields {
			b.WriteString("• *" + fields.FormatLabel(f.Key) + ":* " + truncateValue(f.Value) + "\n")
		}
	}

	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func truncateValue(v string) string {
	if len(v) > fieldValueMax {
		return v[:fieldValueMax-3] + "..."
	}
	return v
}

// extractErrorInfo pulls a human-readable error out of the raw log payload.
// A JSON object's "message" property wins; other JSON objects are dumped
// whole; non-JSON payloads pass through trimmed.
func extractErrorInfo(rawLog string) string {
	rawLog = strings.TrimSpace(rawLog)
	if rawLog == "" {
		return ""
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(rawLog), &decoded); err != nil {
		return rawLog
	}
	if msg, ok := decoded["message"].(string); ok && msg != "" {
		return msg
	}
	// Deterministic dump: encoding/json sorts object keys.
	dump, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return rawLog
	}
	return strings.TrimSpace(string(dump))
}

// formatTimestamp renders the event's UTC creation time (minute precision) in
// Pacific local time. A zero creation time falls back to the current time.
func formatTimestamp(createdAt time.Time, now func() time.Time) string {
	t := createdAt
	if t.IsZero() {
		t = now().UTC()
	}
	return t.Truncate(time.Minute).In(pacific).Format(timestampLayout) + " PT"
}
