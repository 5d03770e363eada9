package scraper_test

import (
	"testing"

	"smar/scraper-service/internal/scraper"
)

func TestCleanText(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"plain text", "plain text"},
		{"<b>Super</b> bright &amp; free", "Super bright & free"},
		{"It&#39;s &quot;fast&quot;", `It's "fast"`},
		{"1 &lt; 2", "1 < 2"},
		{"<p>line one</p><p>line two</p>", "line oneline two"},
	}
	for _, c := range cases {
		if got := scraper.CleanText(c.in); got != c.want {
			t.Errorf("CleanText(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
