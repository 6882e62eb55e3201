package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpinionValidate(t *testing.T) {
	valid := Opinion{
		DocketEntryID: "a1b2c3d4-1111-2222-3333-444455556666",
		DocketNumber:  "12345-20",
	}
	assert.NoError(t, valid.Validate())

	missing := Opinion{DocketNumber: "12345-20"}
	assert.Error(t, missing.Validate())

	malformed := Opinion{DocketEntryID: "not-a-uuid", DocketNumber: "12345-20"}
	assert.Error(t, malformed.Validate())

	noDocket := Opinion{DocketEntryID: "a1b2c3d4-1111-2222-3333-444455556666"}
	assert.Error(t, noDocket.Validate())
}

func TestOpinionFileName(t *testing.T) {
	op := Opinion{
		DocketEntryID: "a1b2c3d4-1111-2222-3333-444455556666",
		DocketNumber:  "12345-20",
	}
	assert.Equal(t, "12345-20_a1b2c3d4-1111-2222-3333-444455556666.pdf", op.FileName())
}

func TestSafeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12345-20_abc", "12345-20_abc"},
		{"docket/with\\slashes", "docketwithslashes"},
		{"spaces  become one", "spaces_become_one"},
		{"trailing dots...", "trailing_dots"},
		{"", "unnamed"},
		{"///", "unnamed"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, SafeFileName(test.in), "input %q", test.in)
	}
}

func TestOpinionFilingTime(t *testing.T) {
	op := Opinion{FilingDate: "2023-05-17T04:00:00.000Z"}
	ft := op.FilingTime()
	assert.Equal(t, 2023, ft.Year())
	assert.Equal(t, time.May, ft.Month())
	assert.Equal(t, 17, ft.Day())

	assert.True(t, (&Opinion{}).FilingTime().IsZero())
	assert.True(t, (&Opinion{FilingDate: "gibberish"}).FilingTime().IsZero())
}

func TestStatsSuccessRate(t *testing.T) {
	stats := Stats{CountByStatus: map[DownloadStatus]int64{
		StatusCompleted: 75,
		StatusFailed:    25,
		StatusSkipped:   1000, // skips do not count either way
	}}
	assert.InDelta(t, 75.0, stats.SuccessRate(), 0.001)

	empty := Stats{CountByStatus: map[DownloadStatus]int64{}}
	assert.Zero(t, empty.SuccessRate())
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "1.5 MB", FormatBytes(1536*1024))
	assert.Equal(t, "2.0 GB", FormatBytes(2*1024*1024*1024))
}
