package version

import "testing"

func TestGetCurrentVersion(t *testing.T) {
	if got := GetCurrentVersion("dev"); got != DevVersion {
		t.Errorf("dev mode: expected %q, got %q", DevVersion, got)
	}
	if got := GetCurrentVersion("demo"); got != DevVersion {
		t.Errorf("demo mode: expected %q, got %q", DevVersion, got)
	}
	if got := GetCurrentVersion("prod"); got != Version {
		t.Errorf("prod mode: expected %q, got %q", Version, got)
	}
}

func TestIsVersionGreaterOrEqualThan(t *testing.T) {
	tests := []struct {
		version string
		target  string
		want    bool
	}{
		{"0.1.0", "0.1.0", true},
		{"0.2.0", "0.1.0", true},
		{"0.1.1", "0.1.0", true},
		{"0.1.0", "0.2.0", false},
		{"1.0.0", "0.9.9", true},
		{"0.0.0-dev", "0.1.0", false},
	}
	for _, tt := range tests {
		if got := IsVersionGreaterOrEqualThan(tt.version, tt.target); got != tt.want {
			t.Errorf("IsVersionGreaterOrEqualThan(%q, %q): expected %v, got %v",
				tt.version, tt.target, tt.want, got)
		}
	}
}
