package pathutil

import "testing"

func TestEncodeID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "ralph-main", "ralph-main"},
		{"slashes", "team/auth service", "team-auth-service"},
		{"traversal", "../../etc", "etc"},
		{"leading separators", "/var/run", "var-run"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeID(tt.in); got != tt.want {
				t.Errorf("EncodeID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
