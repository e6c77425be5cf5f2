package device

import (
	"strings"
	"testing"
)

func TestParse_Chrome(t *testing.T) {
	raw := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	info := Parse(raw)
	if info.UserAgent != raw {
		t.Errorf("UserAgent = %q", info.UserAgent)
	}
	if !strings.HasPrefix(info.Browser, "Chrome") {
		t.Errorf("Browser = %q, want Chrome prefix", info.Browser)
	}
	if !strings.HasPrefix(info.OS, "Windows") {
		t.Errorf("OS = %q, want Windows prefix", info.OS)
	}
}

func TestParse_EmptyFallsBackToUnknown(t *testing.T) {
	info := Parse("  ")
	if info.UserAgent != Unknown || info.Browser != Unknown || info.OS != Unknown {
		t.Errorf("Parse(empty) = %+v, want all Unknown", info)
	}
}
