package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeadlineOfDay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "09:30", want: 9*time.Hour + 30*time.Minute},
		{raw: "09:30Z", want: 9*time.Hour + 30*time.Minute},
		{raw: "17:00:30Z", want: 17*time.Hour + 30*time.Second},
		{raw: "00:00", want: 0},
		{raw: "25:00", wantErr: true},
		{raw: "09", wantErr: true},
		{raw: "garbage", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()

			got, err := ParseDeadlineOfDay(tt.raw)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGraphEdge_DueAt(t *testing.T) {
	t.Parallel()

	eventTime := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	t.Run("relative latency", func(t *testing.T) {
		t.Parallel()

		edge := &GraphEdge{MaxLatencySec: 300}
		assert.Equal(t, eventTime.Add(5*time.Minute), edge.DueAt(eventTime))
	})

	t.Run("absolute deadline later the same day", func(t *testing.T) {
		t.Parallel()

		edge := &GraphEdge{AbsoluteDeadline: "17:00Z"}
		assert.Equal(t, time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC), edge.DueAt(eventTime))
	})

	t.Run("absolute deadline already past stays in the past", func(t *testing.T) {
		t.Parallel()

		// No rollover to the next day: arriving after the cutoff is an
		// immediate breach.
		edge := &GraphEdge{AbsoluteDeadline: "08:00Z"}
		due := edge.DueAt(eventTime)
		assert.Equal(t, time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC), due)
		assert.True(t, due.Before(eventTime))
	})

	t.Run("earlier deadline governs when both set", func(t *testing.T) {
		t.Parallel()

		edge := &GraphEdge{MaxLatencySec: 3600, AbsoluteDeadline: "09:30Z"}
		assert.Equal(t, time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC), edge.DueAt(eventTime))

		edge = &GraphEdge{MaxLatencySec: 600, AbsoluteDeadline: "17:00Z"}
		assert.Equal(t, eventTime.Add(10*time.Minute), edge.DueAt(eventTime))
	})

	t.Run("no deadline yields event time", func(t *testing.T) {
		t.Parallel()

		edge := &GraphEdge{}
		assert.Equal(t, eventTime, edge.DueAt(eventTime))
	})
}

func TestSeverity_Worse(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SeverityRed, SeverityAmber.Worse(SeverityRed))
	assert.Equal(t, SeverityRed, SeverityRed.Worse(SeverityGreen))
	assert.Equal(t, SeverityAmber, SeverityGreen.Worse(SeverityAmber))
	assert.Equal(t, SeverityGreen, SeverityGreen.Worse(SeverityGreen))
}

func TestNormalizeSeverity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SeverityRed, NormalizeSeverity("RED"))
	assert.Equal(t, SeverityGreen, NormalizeSeverity("green"))
	assert.Equal(t, SeverityAmber, NormalizeSeverity(""))
	assert.Equal(t, SeverityAmber, NormalizeSeverity("critical"))
}
