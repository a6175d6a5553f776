package app

import (
	"testing"
	"time"

	"formwatch/internal/config"
)

func TestPassConfigMapping(t *testing.T) {
	cfg := &config.Config{
		Notify: config.NotifyConfig{
			Webhook:      config.WebhookPrefix + "T000/B000/xyz",
			SiteTitle:    "Example Site",
			GlobalFields: "name,email",
		},
		Scanner: config.ScannerConfig{Window: "15m"},
	}

	pc := passConfig(cfg)
	if pc.Webhook != cfg.Notify.Webhook {
		t.Fatalf("webhook = %q", pc.Webhook)
	}
	if pc.SiteTitle != "Example Site" {
		t.Fatalf("site title = %q", pc.SiteTitle)
	}
	if pc.Window != 15*time.Minute {
		t.Fatalf("window = %v", pc.Window)
	}
}

func TestPassConfigBlanksInvalidWebhook(t *testing.T) {
	cfg := &config.Config{
		Notify: config.NotifyConfig{Webhook: "https://example.com/hook"},
	}
	if pc := passConfig(cfg); pc.Webhook != "" {
		t.Fatalf("invalid webhook must be blanked, got %q", pc.Webhook)
	}
	if pc := passConfig(cfg); pc.Window != config.DefaultWindow {
		t.Fatalf("window default = %v", pc.Window)
	}
}

func TestNotifyClientConfigDefaults(t *testing.T) {
	nc := notifyClientConfig(&config.Config{})
	if nc.Timeout != config.DefaultTimeout {
		t.Fatalf("timeout default = %v", nc.Timeout)
	}
	if nc.RatePerSec != config.DefaultRatePerSec {
		t.Fatalf("rate default = %d", nc.RatePerSec)
	}

	nc = notifyClientConfig(&config.Config{
		Notify: config.NotifyConfig{Timeout: "3s", RatePerSec: 5},
	})
	if nc.Timeout != 3*time.Second || nc.RatePerSec != 5 {
		t.Fatalf("mapped config = %+v", nc)
	}
}
