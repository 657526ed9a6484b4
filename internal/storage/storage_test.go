package storage

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSegment(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "unnamed"},
		{"uuid", "3f1c2a9e-0000-4000-8000-000000000001", "3f1c2a9e-0000-4000-8000-000000000001"},
		{"uppercase", "HubSpot", "hubspot"},
		{"spaces collapsed", "neon   one", "neon_one"},
		{"slashes replaced", "../etc/passwd", ".._etc_passwd"},
		{"only specials", "@#$", "unnamed"},
		{"trimmed", "_report_", "report"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeSegment(tt.input))
		})
	}
}

func TestSanitizeSegment_Truncates(t *testing.T) {
	assert.Len(t, SanitizeSegment(strings.Repeat("a", 300)), 200)
}

func TestReportKey(t *testing.T) {
	finished := time.Date(2026, 3, 7, 14, 5, 9, 0, time.FixedZone("EST", -5*3600))
	key := ReportKey("org-1", "salesforce", "run-42", finished)
	assert.Equal(t, "org-1/salesforce/2026/03/20260307T190509Z-run-42.json", key)
}

func TestConfig(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "crm-sync-reports", cfg.Bucket)
	assert.False(t, cfg.Enabled())

	cfg.Endpoint, cfg.AccessKey, cfg.SecretKey = "http://localhost:9000", "minio", "minio123"
	assert.True(t, cfg.Enabled())
}

func TestDisabledService(t *testing.T) {
	svc, err := NewService(&Config{Bucket: "reports"}, slog.Default())
	require.NoError(t, err)
	assert.False(t, svc.Enabled())

	ctx := context.Background()
	_, err = svc.PutJSON(ctx, "k", map[string]int{"a": 1})
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = svc.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = svc.Exists(ctx, "k")
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = svc.PresignGet(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestEnabledService_BuildsClient(t *testing.T) {
	svc, err := NewService(&Config{
		Endpoint:  "http://localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		Region:    "us-east-1",
		Bucket:    "reports",
	}, slog.Default())
	require.NoError(t, err)
	require.True(t, svc.Enabled())

	url, err := svc.PresignGet(context.Background(), "org/hubspot/report.json", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "http://localhost:9000/reports/org/hubspot/report.json")
	assert.Contains(t, url, "X-Amz-Expires=60")
}
