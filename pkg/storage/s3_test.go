package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportKey(t *testing.T) {
	at := time.Date(2025, 9, 1, 21, 5, 0, 0, time.FixedZone("CEST", 2*3600))
	assert.Equal(t, "reports/abc/attendance-20250901T190500Z.csv", ReportKey("abc", at))
}

func TestPresignedDownloadURL(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Region:          "eu-west-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		ReportsBucket:   "dance-reports",
		Endpoint:        "http://localhost:9000",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, s.PresignExpire())
	assert.Equal(t, "dance-reports", s.ReportsBucket())

	url, err := s.PresignedDownloadURL(context.Background(), s.ReportsBucket(), "reports/abc/x.csv", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "http://localhost:9000/dance-reports/reports/abc/x.csv?"), url)
	assert.Contains(t, url, "X-Amz-Expires=3600")
}
