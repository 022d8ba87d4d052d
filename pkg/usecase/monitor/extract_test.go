package monitor_test

import (
	"strings"
	"testing"

	"github.com/finwatch/finwatch/pkg/usecase/monitor"
	"github.com/m-mizutani/gt"
)

func TestExtractSummary(t *testing.T) {
	html := []byte("<h1>HMRC Update</h1><p>No changes today.</p>")
	summary := gt.R1(monitor.ExtractSummary(html)).NoError(t)
	gt.V(t, summary).Equal("Title: HMRC Update - Snippet: No changes today....")
}

func TestExtractSummaryFallbacks(t *testing.T) {
	t.Run("title tag when no h1", func(t *testing.T) {
		html := []byte("<html><head><title>FCA News</title></head><body><p>New guidance published.</p></body></html>")
		summary := gt.R1(monitor.ExtractSummary(html)).NoError(t)
		gt.V(t, summary).Equal("Title: FCA News - Snippet: New guidance published....")
	})

	t.Run("placeholders when nothing found", func(t *testing.T) {
		summary := gt.R1(monitor.ExtractSummary([]byte("<div>bare</div>"))).NoError(t)
		gt.V(t, summary).Equal("Title: No title found - Snippet: No paragraph found...")
	})
}

func TestExtractSummaryCapsSnippet(t *testing.T) {
	long := strings.Repeat("tax ", 100) // 400 chars
	html := []byte("<h1>Budget</h1><p>" + long + "</p>")
	summary := gt.R1(monitor.ExtractSummary(html)).NoError(t)

	// 200-rune snippet plus the fixed prefix and trailing dots.
	gt.S(t, summary).Contains("Title: Budget - Snippet: ")
	gt.S(t, summary).Contains("...")
	gt.Number(t, len([]rune(summary))).Less(260)
}

func TestExtractSummaryIgnoresMarkupDifferences(t *testing.T) {
	a := gt.R1(monitor.ExtractSummary([]byte("<h1>HMRC Update</h1><p>No changes today.</p>"))).NoError(t)
	b := gt.R1(monitor.ExtractSummary([]byte("<html><body>\n  <h1>HMRC Update</h1>\n  <p>No changes today.</p>\n</body></html>"))).NoError(t)
	gt.V(t, monitor.Fingerprint(a)).Equal(monitor.Fingerprint(b))
}
