package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunRecord(t *testing.T) {
	start := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	reports := map[string]PersistReport{
		"feed":    {File: "output/twitter/tweets_20261018_0800.json"},
		"article": {Err: errors.New("disk full")},
	}
	rec := NewRunRecord("run-1", start, start.Add(time.Minute), sampleResult(t), reports, "summary")

	assert.Equal(t, "run-1", rec.ID)
	assert.False(t, rec.OK)
	require.Len(t, rec.Sources, 4)

	market := rec.Sources["market"].(map[string]any)
	assert.Equal(t, false, market["ok"])
	assert.Equal(t, "connection refused", market["reason"])

	feed := rec.Sources["feed"].(map[string]any)
	assert.Equal(t, "1 tweets", feed["detail"])
	assert.Equal(t, "output/twitter/tweets_20261018_0800.json", feed["file"])

	article := rec.Sources["article"].(map[string]any)
	assert.Equal(t, "disk full", article["storeError"])

	tool := rec.Sources["external-tool"].(map[string]any)
	assert.Equal(t, 3, tool["order"])
	assert.Equal(t, "success", tool["detail"])
}

func TestNormalizeStockCode(t *testing.T) {
	cases := map[string]string{
		"600519":  "600519",
		" 1 ":     "000001",
		"60051a":  "",
		"6005190": "",
		"":        "",
	}
	for in, want := range cases {
		if got := NormalizeStockCode(in); got != want {
			t.Fatalf("NormalizeStockCode(%q) = %q, want %q", in, got, want)
		}
	}
}
