package speedtest

import "testing"

func TestIntConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  map[string]any
		want int
	}{
		{"missing", map[string]any{}, 5},
		{"int", map[string]any{"server_count": 3}, 3},
		{"json number", map[string]any{"server_count": float64(7)}, 7},
		{"zero falls back", map[string]any{"server_count": 0}, 5},
		{"negative falls back", map[string]any{"server_count": -2}, 5},
		{"wrong type", map[string]any{"server_count": "many"}, 5},
	}
	for _, tc := range cases {
		if got := intConfig(tc.cfg, "server_count", 5); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}
