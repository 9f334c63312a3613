package sanitize

import "testing"

func Test_Summary(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"cut on the word boundary here", 12, "cut on the…"},
		{"nospacesatallinthisverylongword", 10, "nospacesat…"},
		{"", 5, ""},
	}
	for _, c := range cases {
		if got := Summary(c.in, c.max); got != c.want {
			t.Fatalf("Summary(%q, %d) = %q, want %q", c.in, c.max, got, c.want)
		}
	}
}
