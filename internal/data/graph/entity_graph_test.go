package graph

import "testing"

func TestSanitizeRelLabel(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "clean ascii", in: "OPTIMIZES", want: "OPTIMIZES"},
		{name: "spaces become underscores", in: "reduces cost", want: "reduces_cost"},
		{name: "mixed script keeps ascii", in: "CPA改善", want: "CPA__"},
		{name: "all japanese falls back", in: "関連する", want: "RELATED_TO"},
		{name: "empty falls back", in: "", want: "RELATED_TO"},
		{name: "underscores only falls back", in: "___", want: "RELATED_TO"},
		{name: "digits kept", in: "top_10", want: "top_10"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeRelLabel(tc.in); got != tc.want {
				t.Fatalf("sanitizeRelLabel(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
