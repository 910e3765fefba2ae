package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/LJTian/FinRadar/internal/config"
)

type fakeArticleAPI struct {
	pingErr    error
	fakeIDs    map[string]string
	listErr    map[string]error
	articles   map[string][]Article
	contentErr map[string]error

	searches     []string
	contentCalls []string
	closed       int
}

func (f *fakeArticleAPI) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeArticleAPI) SearchAccount(ctx context.Context, name string) (WechatAccount, error) {
	f.searches = append(f.searches, name)
	id, ok := f.fakeIDs[name]
	if !ok {
		return WechatAccount{}, fmt.Errorf("wechat: search %s: %w", name, ErrAccountNotFound)
	}
	return WechatAccount{FakeID: id, Nickname: name}, nil
}

func (f *fakeArticleAPI) ListArticles(ctx context.Context, fakeID string, count int) ([]Article, error) {
	if err := f.listErr[fakeID]; err != nil {
		return nil, err
	}
	list := append([]Article(nil), f.articles[fakeID]...)
	if count > 0 && len(list) > count {
		list = list[:count]
	}
	return list, nil
}

func (f *fakeArticleAPI) ArticleContent(ctx context.Context, url string) (string, error) {
	f.contentCalls = append(f.contentCalls, url)
	if err := f.contentErr[url]; err != nil {
		return "", err
	}
	return "content of " + url, nil
}

func (f *fakeArticleAPI) Close() { f.closed++ }

// fakeLimiter 记录创建时的间隔与等待次数，不依赖真实时间
type fakeLimiter struct {
	interval time.Duration
	waits    int
}

func (l *fakeLimiter) Wait(ctx context.Context) error {
	l.waits++
	return ctx.Err()
}

type limiterRecorder struct {
	created []*fakeLimiter
}

func (r *limiterRecorder) New(interval time.Duration) Limiter {
	l := &fakeLimiter{interval: interval}
	r.created = append(r.created, l)
	return l
}

func accountsNode(t *testing.T, names ...string) yaml.Node {
	t.Helper()
	var node yaml.Node
	require.NoError(t, node.Encode(names))
	return node
}

func ptrTime(t time.Time) *time.Time { return &t }

func newTestArticleSource(t *testing.T, cfg config.WechatConfig, api *fakeArticleAPI) (*ArticleSource, *limiterRecorder) {
	t.Helper()
	src := NewArticleSource(cfg)
	rec := &limiterRecorder{}
	src.NewClient = func(config.WechatConfig) ArticleAPI { return api }
	src.NewLimiter = rec.New
	return src, rec
}

func baseWechatConfig(t *testing.T, accounts ...string) config.WechatConfig {
	return config.WechatConfig{
		ServiceURL:            "http://wechat.test",
		MaxAgeHours:           24,
		FetchContent:          true,
		ContentDelaySec:       2,
		AccountDelaySec:       0.5,
		MaxArticlesPerAccount: 50,
		MaxAccounts:           15,
		MaxRetained:           100,
		Accounts:              accountsNode(t, accounts...),
	}
}

func TestArticleSourceFiltersBeforeEnrichment(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	api := &fakeArticleAPI{
		fakeIDs: map[string]string{"财经早餐": "fa"},
		articles: map[string][]Article{
			"fa": {
				{Title: "fresh", URL: "u1", PublishTime: ptrTime(now.Add(-1 * time.Hour))},
				{Title: "old", URL: "u2", PublishTime: ptrTime(now.Add(-48 * time.Hour))},
				{Title: "unknown", URL: "u3"},
				{Title: "edge", URL: "u4", PublishTime: ptrTime(now.Add(-24 * time.Hour))},
			},
		},
	}
	src, rec := newTestArticleSource(t, baseWechatConfig(t, "财经早餐"), api)

	out := src.Fetch(context.Background(), Run{StartedAt: now})
	require.True(t, out.OK(), out.Reason())
	snap := out.Payload().(*ArticleSnapshot)

	cutoff := now.Add(-24 * time.Hour)
	require.Len(t, snap.Articles, 2)
	for _, a := range snap.Articles {
		require.NotNil(t, a.PublishTime, "articles with unknown time must be filtered out")
		assert.False(t, a.PublishTime.Before(cutoff), "article %s older than cutoff", a.Title)
		assert.Equal(t, "财经早餐", a.AccountName)
		assert.Equal(t, "content of "+a.URL, a.Content)
	}
	// 只对过滤后的文章抓取全文
	assert.ElementsMatch(t, []string{"u1", "u4"}, api.contentCalls)
	assert.Equal(t, 1, api.closed)

	// 第一个限流器是账号间隔，其后每个账号一个正文间隔
	require.Len(t, rec.created, 2)
	assert.Equal(t, 500*time.Millisecond, rec.created[0].interval)
	assert.Equal(t, 2*time.Second, rec.created[1].interval)
	assert.Equal(t, 2, rec.created[1].waits)
}

func TestArticleSourceWithoutCutoffKeepsUnknownTimesLast(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	cfg := baseWechatConfig(t, "A", "B")
	cfg.MaxAgeHours = 0
	cfg.FetchContent = false
	api := &fakeArticleAPI{
		fakeIDs: map[string]string{"A": "a", "B": "b"},
		articles: map[string][]Article{
			"a": {{Title: "a-unknown"}, {Title: "a-old", PublishTime: ptrTime(now.Add(-72 * time.Hour))}},
			"b": {{Title: "b-new", PublishTime: ptrTime(now.Add(-time.Hour))}},
		},
	}
	src, _ := newTestArticleSource(t, cfg, api)

	out := src.Fetch(context.Background(), Run{StartedAt: now})
	require.True(t, out.OK())
	snap := out.Payload().(*ArticleSnapshot)

	titles := make([]string, 0, len(snap.Articles))
	for _, a := range snap.Articles {
		titles = append(titles, a.Title)
	}
	assert.Equal(t, []string{"b-new", "a-old", "a-unknown"}, titles)
	assert.Empty(t, api.contentCalls, "content disabled by config")
	assert.Equal(t, 2, snap.AccountsOK)
}

func TestArticleSourceRetainsMostRecent(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	cfg := baseWechatConfig(t, "A", "B", "C")
	cfg.MaxAgeHours = 0
	cfg.FetchContent = false

	api := &fakeArticleAPI{fakeIDs: map[string]string{"A": "a", "B": "b", "C": "c"}, articles: map[string][]Article{}}
	// 150 篇文章，分钟间隔交错分布在三个账号中
	for i := 0; i < 150; i++ {
		id := []string{"a", "b", "c"}[i%3]
		api.articles[id] = append(api.articles[id], Article{
			Title:       fmt.Sprintf("art-%03d", i),
			PublishTime: ptrTime(now.Add(-time.Duration(i) * time.Minute)),
		})
	}
	src, _ := newTestArticleSource(t, cfg, api)

	out := src.Fetch(context.Background(), Run{StartedAt: now})
	require.True(t, out.OK())
	snap := out.Payload().(*ArticleSnapshot)

	require.Len(t, snap.Articles, 100)
	assert.Equal(t, 150, snap.Found)
	for i, a := range snap.Articles {
		assert.Equal(t, fmt.Sprintf("art-%03d", i), a.Title)
	}
	assert.Equal(t, "100 articles", snap.Detail())
}

func TestArticleSourceAbsorbsPartialFailures(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	api := &fakeArticleAPI{
		fakeIDs: map[string]string{"ok": "o", "broken": "b"},
		listErr: map[string]error{"b": errors.New("list failed")},
		articles: map[string][]Article{
			"o": {
				{Title: "t1", URL: "u1", PublishTime: ptrTime(now)},
				{Title: "t2", URL: "u2", PublishTime: ptrTime(now.Add(-time.Minute))},
			},
		},
		contentErr: map[string]error{"u1": errors.New("rate limited")},
	}
	src, _ := newTestArticleSource(t, baseWechatConfig(t, "missing", "broken", "ok"), api)

	out := src.Fetch(context.Background(), Run{StartedAt: now})
	require.True(t, out.OK(), out.Reason())
	snap := out.Payload().(*ArticleSnapshot)

	assert.Equal(t, []string{"missing", "broken", "ok"}, api.searches, "accounts processed in configured order")
	assert.Equal(t, 1, snap.AccountsOK)
	assert.Len(t, snap.Errors, 2)
	require.Len(t, snap.Articles, 2)
	assert.Equal(t, "", snap.Articles[0].Content, "failed content stays empty")
	assert.Equal(t, "content of u2", snap.Articles[1].Content)
}

func TestArticleSourceCapsAccounts(t *testing.T) {
	names := make([]string, 20)
	for i := range names {
		names[i] = fmt.Sprintf("acct-%02d", i)
	}
	api := &fakeArticleAPI{fakeIDs: map[string]string{}}
	src, _ := newTestArticleSource(t, baseWechatConfig(t, names...), api)

	out := src.Fetch(context.Background(), Run{StartedAt: time.Now()})
	require.True(t, out.OK())
	assert.Len(t, api.searches, 15)
}

func TestArticleSourceUnreachableServiceFails(t *testing.T) {
	api := &fakeArticleAPI{pingErr: errors.New("wechat: service unreachable: connection refused")}
	src, _ := newTestArticleSource(t, baseWechatConfig(t, "A"), api)

	out := src.Fetch(context.Background(), Run{StartedAt: time.Now()})
	assert.False(t, out.OK())
	assert.Contains(t, out.Reason(), "unreachable")
	assert.Equal(t, 1, api.closed, "client released on early failure")
	assert.Empty(t, api.searches)
}

func TestArticleSourceDisabledSkipsIO(t *testing.T) {
	cfg := baseWechatConfig(t, "A")
	cfg.Switch = disabled()
	src := NewArticleSource(cfg)
	src.NewClient = func(config.WechatConfig) ArticleAPI {
		t.Fatalf("client must not be created for a disabled source")
		return nil
	}

	out := src.Fetch(context.Background(), Run{StartedAt: time.Now()})
	assert.False(t, out.OK())
	assert.Equal(t, ReasonDisabled, out.Reason())
}

func TestArticleSnapshotRecord(t *testing.T) {
	at := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	snap := &ArticleSnapshot{Articles: []Article{
		{Title: "t", PublishTime: ptrTime(at)},
		{Title: "u"},
	}}
	rec := snap.Record(at)

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"publish_time":"2026-10-18T09:30:00Z"`)
	assert.Contains(t, string(raw), `"publish_time":"","url":"","digest":"","content":""`)
}
