package collector

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/LJTian/FinRadar/internal/config"
)

// Article 是公众号文章，PublishTime 为 nil 表示发布时间未知
type Article struct {
	Title       string
	Author      string
	AccountName string
	PublishTime *time.Time
	URL         string
	Digest      string
	Content     string
}

// ArticleAPI 是文章服务的访问能力，由 ArticleSource 在每次抓取时创建并负责关闭
type ArticleAPI interface {
	Ping(ctx context.Context) error
	SearchAccount(ctx context.Context, name string) (WechatAccount, error)
	ListArticles(ctx context.Context, fakeID string, count int) ([]Article, error)
	ArticleContent(ctx context.Context, url string) (string, error)
	Close()
}

// ArticleSource 抓取公众号文章：先按账号列出文章，按时间过滤，再对保留下来的文章抓取全文
type ArticleSource struct {
	cfg config.WechatConfig

	// NewClient 与 NewLimiter 可在测试中替换
	NewClient  func(cfg config.WechatConfig) ArticleAPI
	NewLimiter NewLimiterFunc
}

func NewArticleSource(cfg config.WechatConfig) *ArticleSource {
	return &ArticleSource{
		cfg: cfg,
		NewClient: func(cfg config.WechatConfig) ArticleAPI {
			return NewWechatClient(cfg.ServiceURL, cfg.AuthKey, cfg.Timeout())
		},
		NewLimiter: NewIntervalLimiter,
	}
}

func (s *ArticleSource) Name() string {
	return "article"
}

// ArticleSnapshot 是文章抓取结果。Found 为截断前的文章数
type ArticleSnapshot struct {
	Articles   []Article
	Found      int
	AccountsOK int
	Errors     []string
}

func (a *ArticleSnapshot) Detail() string { return fmt.Sprintf("%d articles", len(a.Articles)) }
func (a *ArticleSnapshot) Dir() string    { return "wechat" }
func (a *ArticleSnapshot) Prefix() string { return "articles" }

type articleRecord struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	AccountName string `json:"account_name"`
	PublishTime string `json:"publish_time"`
	URL         string `json:"url"`
	Digest      string `json:"digest"`
	Content     string `json:"content"`
}

func (a *ArticleSnapshot) Record(at time.Time) any {
	records := make([]articleRecord, 0, len(a.Articles))
	for _, art := range a.Articles {
		published := ""
		if art.PublishTime != nil {
			published = art.PublishTime.Format(time.RFC3339)
		}
		records = append(records, articleRecord{
			Title:       art.Title,
			Author:      art.Author,
			AccountName: art.AccountName,
			PublishTime: published,
			URL:         art.URL,
			Digest:      art.Digest,
			Content:     art.Content,
		})
	}
	return struct {
		Timestamp string          `json:"timestamp"`
		Articles  []articleRecord `json:"articles"`
	}{Timestamp: at.Format(time.RFC3339), Articles: records}
}

func (s *ArticleSource) Fetch(ctx context.Context, run Run) Outcome {
	if !s.cfg.IsEnabled() {
		log.Println("article: source disabled, skip")
		return Failure(ReasonDisabled)
	}
	accounts := s.cfg.AllAccounts()
	if len(accounts) == 0 {
		return Failure("no accounts configured")
	}
	if limit := s.cfg.MaxAccounts; limit > 0 && len(accounts) > limit {
		accounts = accounts[:limit]
	}

	client := s.NewClient(s.cfg)
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return Failure(err.Error())
	}

	cutoff := s.cfg.Cutoff(run.StartedAt)
	log.Printf("article: service=%s accounts=%d max_age=%.0fh fetch_content=%v",
		s.cfg.ServiceURL, len(accounts), s.cfg.MaxAgeHours, s.cfg.FetchContent)

	snap := &ArticleSnapshot{}
	between := s.NewLimiter(s.cfg.AccountDelay())
	for _, name := range accounts {
		if err := between.Wait(ctx); err != nil {
			snap.Errors = append(snap.Errors, fmt.Sprintf("%s: %v", name, err))
			break
		}
		articles, err := s.collectAccount(ctx, client, name, cutoff)
		if err != nil {
			log.Printf("article: account %s: %v", name, err)
			snap.Errors = append(snap.Errors, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		log.Printf("article: account %s done, %d articles", name, len(articles))
		snap.Articles = append(snap.Articles, articles...)
		snap.AccountsOK++
	}

	SortArticles(snap.Articles)
	snap.Found = len(snap.Articles)
	if limit := s.cfg.MaxRetained; limit > 0 && len(snap.Articles) > limit {
		snap.Articles = snap.Articles[:limit]
	}
	return Success(snap)
}

// collectAccount 处理单个账号：解析、列出、过滤、可选抓取全文。
// 单篇全文失败只记录日志，不影响其他文章
func (s *ArticleSource) collectAccount(ctx context.Context, client ArticleAPI, name string, cutoff *time.Time) ([]Article, error) {
	account, err := client.SearchAccount(ctx, name)
	if err != nil {
		return nil, err
	}
	articles, err := client.ListArticles(ctx, account.FakeID, s.cfg.MaxArticlesPerAccount)
	if err != nil {
		return nil, err
	}
	for i := range articles {
		articles[i].AccountName = name
	}

	// 先按时间过滤再抓全文，被丢弃的文章不会产生正文请求
	articles = FilterByCutoff(articles, cutoff)

	if !s.cfg.FetchContent || len(articles) == 0 {
		return articles, nil
	}
	gate := s.NewLimiter(s.cfg.ContentDelay())
	for i := range articles {
		if err := gate.Wait(ctx); err != nil {
			log.Printf("article: account %s: content fetch interrupted: %v", name, err)
			break
		}
		content, err := client.ArticleContent(ctx, articles[i].URL)
		if err != nil {
			log.Printf("article: content %q: %v", articles[i].Title, err)
			continue
		}
		articles[i].Content = content
	}
	return articles, nil
}

// FilterByCutoff 保留发布时间不早于 cutoff 的文章；cutoff 为 nil 时原样返回。
// 发布时间未知的文章在过滤时一律丢弃
func FilterByCutoff(articles []Article, cutoff *time.Time) []Article {
	if cutoff == nil {
		return articles
	}
	out := make([]Article, 0, len(articles))
	for _, a := range articles {
		if a.PublishTime != nil && !a.PublishTime.Before(*cutoff) {
			out = append(out, a)
		}
	}
	return out
}

// SortArticles 按发布时间倒序，发布时间未知的排在最后
func SortArticles(articles []Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		a, b := articles[i].PublishTime, articles[j].PublishTime
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})
}
