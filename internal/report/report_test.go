package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/FinRadar/internal/collector"
	"github.com/LJTian/FinRadar/internal/storage"
)

func fiveTweets() *collector.TweetSnapshot {
	snap := &collector.TweetSnapshot{Instance: "https://nitter.net"}
	for i := 0; i < 5; i++ {
		snap.Tweets = append(snap.Tweets, collector.Tweet{Username: "business", Text: "line\n" + strings.Repeat("x", i)})
	}
	return snap
}

func TestRenderMixedRun(t *testing.T) {
	r := collector.NewRunResult()
	require.NoError(t, r.Set("market", collector.Failure("connection refused")))
	require.NoError(t, r.Set("feed", collector.Success(fiveTweets())))
	require.NoError(t, r.Set("article", collector.Failure(collector.ReasonDisabled)))
	require.NoError(t, r.Set("external-tool", collector.Success(&collector.ProcessReport{})))
	reports := map[string]storage.PersistReport{
		"feed": {File: "output/twitter/tweets_20261018_0800.json"},
	}

	sum := Render(r, reports, time.Date(2026, 10, 18, 8, 3, 0, 0, time.Local))

	assert.False(t, sum.OK)
	assert.Equal(t, 1, sum.ExitCode())
	lines := strings.Split(strings.TrimSpace(sum.Text), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "❌ market: connection refused", lines[1])
	assert.Equal(t, "✅ feed: 5 tweets → output/twitter/tweets_20261018_0800.json", lines[2])
	assert.Equal(t, "❌ article: disabled", lines[3])
	assert.Equal(t, "✅ external-tool: success", lines[4])
	assert.Contains(t, lines[5], "2026-10-18 08:03:00")
}

func TestRenderAllSucceeded(t *testing.T) {
	r := collector.NewRunResult()
	require.NoError(t, r.Set("external-tool", collector.Success(&collector.ProcessReport{})))

	sum := Render(r, nil, time.Now())
	assert.True(t, sum.OK)
	assert.Equal(t, 0, sum.ExitCode())
}

func TestRenderTruncatesLongReason(t *testing.T) {
	r := collector.NewRunResult()
	require.NoError(t, r.Set("external-tool", collector.Failure(strings.Repeat("错", 300))))

	sum := Render(r, nil, time.Now())
	line := strings.Split(sum.Text, "\n")[1]
	reason := strings.TrimPrefix(line, "❌ external-tool: ")
	assert.Equal(t, 201, len([]rune(reason)))
}

func TestRenderStoreFailureKeepsOutcome(t *testing.T) {
	r := collector.NewRunResult()
	require.NoError(t, r.Set("feed", collector.Success(fiveTweets())))
	reports := map[string]storage.PersistReport{"feed": {Err: errors.New("mkdir: permission denied")}}

	sum := Render(r, reports, time.Now())
	assert.True(t, sum.OK, "persistence failure does not change the exit status")
	assert.Contains(t, sum.Text, "✅ feed: 5 tweets\n")
	assert.Contains(t, sum.Text, "⚠️ feed: store failed: mkdir: permission denied")
}

func TestPreviewShowsFirstItems(t *testing.T) {
	var buf bytes.Buffer
	Preview(&buf, "feed", fiveTweets())

	out := buf.String()
	assert.Equal(t, 4, strings.Count(out, "\n"), "header plus three items")
	assert.Contains(t, out, "@business: line xx")

	buf.Reset()
	Preview(&buf, "external-tool", &collector.ProcessReport{Tail: []string{"a", "b"}})
	assert.Equal(t, "--- external-tool ---\n  a\n  b\n", buf.String())

	buf.Reset()
	Preview(&buf, "article", &collector.ArticleSnapshot{})
	assert.Empty(t, buf.String())
}

func TestBanner(t *testing.T) {
	b := Banner(time.Date(2026, 10, 18, 8, 0, 0, 0, time.Local), []string{"market", "feed"})
	assert.Equal(t, "FinRadar 每日抓取 2026-10-18 08:00:00\n数据源: market, feed\n", b)
}
