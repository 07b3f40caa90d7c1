package textutil

import "testing"

func TestFormatUSD(t *testing.T) {
	cases := map[int64]string{
		0:      "$0.00",
		1250:   "$12.50",
		123456: "$1,234.56",
		-150:   "-$1.50",
	}
	for cents, want := range cases {
		if got := FormatUSD(cents); got != want {
			t.Fatalf("FormatUSD(%d): expected %q, got %q", cents, want, got)
		}
	}
}

func TestCleanText(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"  extra   bark\n please ", 0, "extra bark please"},
		{"<script>alert(1)</script>no onions", 0, "no onions"},
		{"<b>well</b> done &amp; sliced", 0, "well done & sliced"},
		{"abcdefgh", 4, "abcd"},
		{"ñandú ñandú", 5, "ñandú"},
	}
	for _, tc := range cases {
		if got := CleanText(tc.in, tc.limit); got != tc.want {
			t.Fatalf("CleanText(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}
