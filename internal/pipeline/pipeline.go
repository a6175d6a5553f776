// Package pipeline runs the scan → resolve → notify pass over the failure log.
package pipeline

import (
	"context"
	"strings"
	"time"

	"formwatch/internal/config"
	"formwatch/internal/fields"
	"formwatch/internal/notify"
	"formwatch/internal/store"

	logx "formwatch/pkg/logx"
)

// Store is the persistence surface one pass needs.
type Store interface {
	RecentFailures(ctx context.Context, window time.Duration) ([]store.FailureEvent, error)
	TryClaim(ctx context.Context, eventID int64) (bool, error)
	Release(ctx context.Context, eventID int64) error
	FieldValues(ctx context.Context, submissionID int64, keys []string) (map[string]string, error)
	PageURL(ctx context.Context, submissionID int64) (string, error)
}

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, webhook, text string) notify.DeliveryResult
}

// PassConfig is the immutable configuration snapshot one pass runs with.
// It is resolved once at pass start; config reloads apply to later passes.
type PassConfig struct {
	Webhook   string
	SiteTitle string
	Rules     config.FieldRules
	Window    time.Duration
}

// PassStats summarizes one pass for logging.
type PassStats struct {
	Scanned  int
	Skipped  int // already marked by an earlier pass
	Sent     int
	Released int // delivery failed; mark removed for retry
}

type Pipeline struct {
	st  Store
	snd Sender
	log logx.Logger

	now func() time.Time
}

func New(st Store, snd Sender, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{st: st, snd: snd, log: log, now: time.Now}
}

// Run executes one full pass. It returns an error only when the failure log
// itself is unavailable; per-event trouble is logged and never stops the
// remaining events. Overlapping invocations are safe: TryClaim is the only
// shared mutable state.
func (p *Pipeline) Run(ctx context.Context, pc PassConfig) (PassStats, error) {
	var stats PassStats

	// Missing or out-of-namespace webhook means notifications are disabled.
	if !webhookUsable(pc.Webhook) {
		p.log.Debug("webhook not configured; pass skipped")
		return stats, nil
	}
	if pc.Window <= 0 {
		pc.Window = config.DefaultWindow
	}

	events, err := p.st.RecentFailures(ctx, pc.Window)
	if err != nil {
		// Data source unavailable: abort cleanly, no marks touched.
		return stats, err
	}
	stats.Scanned = len(events)
	if len(events) == 0 {
		return stats, nil
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if ev.ID <= 0 {
			continue
		}
		p.processEvent(ctx, pc, ev, &stats)
	}

	return stats, nil
}

// processEvent walks one event through claim → resolve → send → commit/release.
func (p *Pipeline) processEvent(ctx context.Context, pc PassConfig, ev store.FailureEvent, stats *PassStats) {
	log := p.log.With(logx.Int64("event_id", ev.ID), logx.Int64("submission_id", ev.SubmissionID))

	claimed, err := p.st.TryClaim(ctx, ev.ID)
	if err != nil {
		log.Error("claim failed; event left for next pass", logx.Err(err))
		return
	}
	if !claimed {
		stats.Skipped++
		return
	}

	text := p.render(ctx, pc, ev, log)

	res := p.snd.Send(ctx, pc.Webhook, text)
	if res.OK {
		stats.Sent++
		log.Info("failure reported", logx.Int("status", res.StatusCode))
		return
	}

	// Delivery failed: release the mark so the next pass retries. This trades
	// a rare duplicate during retry races for guaranteed eventual delivery.
	log.Warn("delivery failed; releasing mark for retry",
		logx.Int("status", res.StatusCode), logx.Err(res.Err))
	if err := p.st.Release(ctx, ev.ID); err != nil {
		log.Error("release failed; event will not be retried", logx.Err(err))
		return
	}
	stats.Released++
}

// render assembles the message text. Lookup problems degrade the message
// rather than failing the event.
func (p *Pipeline) render(ctx context.Context, pc PassConfig, ev store.FailureEvent, log logx.Logger) string {
	pageURL := ev.Referer
	if pageURL == "" {
		u, err := p.st.PageURL(ctx, ev.SubmissionID)
		if err != nil {
			log.Warn("page url lookup failed", logx.Err(err))
		}
		pageURL = u
	}

	resolved, err := p.resolveFields(ctx, ev, pc.Rules)
	if err != nil {
		// Message still goes out, just without submission data.
		log.Warn("field lookup failed; sending without submission data", logx.Err(err))
		resolved = nil
	}

	return buildMessage(messageInput{
		SiteTitle: pc.SiteTitle,
		FormName:  strings.TrimSpace(ev.FormName),
		PageURL:   pageURL,
		ErrorInfo: extractErrorInfo(ev.RawLog),
		UserAgent: fields.SummarizeUserAgent(ev.UserAgent),
		Timestamp: formatTimestamp(ev.CreatedAt, p.now),
		Fields:    resolved,
	})
}

// resolveFields fetches the configured fields for the event's form and keeps
// them in configured order, dropping keys with no stored value.
func (p *Pipeline) resolveFields(ctx context.Context, ev store.FailureEvent, rules config.FieldRules) ([]ResolvedField, error) {
	allowed := rules.FieldsFor(ev.FormName)
	if len(allowed) == 0 {
		return nil, nil
	}

	values, err := p.st.FieldValues(ctx, ev.SubmissionID, allowed)
	if err != nil {
		return nil, err
	}

	out := make([]ResolvedField, 0, len(allowed))
	for _, k := range allowed {
		if v, ok := values[strings.ToLower(strings.TrimSpace(k))]; ok {
			out = append(out, ResolvedField{Key: k, Value: v})
		}
	}
	return out, nil
}

func webhookUsable(w string) bool {
	w = strings.TrimSpace(w)
	return w != "" && strings.HasPrefix(w, config.WebhookPrefix)
}
