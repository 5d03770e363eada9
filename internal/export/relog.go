package export

import (
	"strconv"
	"strings"
	"time"
)

const (
	storeName = "Google Play Store"
	relogInfo = "This search was performed using the SMAR tool: www.smar-tool.org. " +
		"This reproducibility log can be used in the supplemental materials of a publication " +
		"to allow other researchers to reproduce the searches made to gather these results."
)

// RelogInfo describes one search for the reproducibility log. Query is set
// for searches, Collection and Category for top lists.
type RelogInfo struct {
	Version            string
	At                 time.Time
	Country            string
	Query              string
	Collection         string
	Category           string
	TotalCount         int
	IncludePermissions bool
}

// Relog renders the reproducibility log as "key: value" lines.
func Relog(info RelogInfo) string {
	lines := [][2]string{
		{"version", info.Version},
		{"date_time", info.At.UTC().Format(time.RFC3339)},
		{"store", storeName},
		{"country", info.Country},
	}
	if info.Collection != "" || info.Category != "" {
		lines = append(lines, [2]string{"collection", info.Collection}, [2]string{"category", info.Category})
	} else {
		lines = append(lines, [2]string{"search_query", info.Query})
	}
	lines = append(lines,
		[2]string{"num_results", strconv.Itoa(info.TotalCount)},
		[2]string{"permissions", strconv.FormatBool(info.IncludePermissions)},
		[2]string{"info", relogInfo},
	)

	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l[0])
		b.WriteString(": ")
		b.WriteString(l[1])
	}
	return b.String()
}

// RelogFilename suggests a download name for the log of query.
func RelogFilename(query string) string {
	return "Reproducibility_Log_" + query + ".txt"
}
