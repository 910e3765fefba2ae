package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/LJTian/FinRadar/internal/config"
)

const (
	feedRequestTimeout = 20 * time.Second
	feedUserAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Tweet 是一条推文
type Tweet struct {
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Link      string    `json:"link"`
}

type TweetSnapshot struct {
	Instance string
	Tweets   []Tweet
	Errors   []string
}

func (t *TweetSnapshot) Detail() string { return fmt.Sprintf("%d tweets", len(t.Tweets)) }
func (t *TweetSnapshot) Dir() string    { return "twitter" }
func (t *TweetSnapshot) Prefix() string { return "tweets" }

func (t *TweetSnapshot) Record(at time.Time) any {
	tweets, errs := t.Tweets, t.Errors
	if tweets == nil {
		tweets = []Tweet{}
	}
	if errs == nil {
		errs = []string{}
	}
	return struct {
		Timestamp string   `json:"timestamp"`
		Instance  string   `json:"instance"`
		Tweets    []Tweet  `json:"tweets"`
		Errors    []string `json:"errors"`
	}{Timestamp: at.Format(time.RFC3339), Instance: t.Instance, Tweets: tweets, Errors: errs}
}

// FeedSource 通过 nitter 镜像的 RSS 抓取账号动态。
// 按顺序尝试镜像实例，第一个能返回数据的实例用于所有账号
type FeedSource struct {
	cfg config.TwitterConfig
}

func NewFeedSource(cfg config.TwitterConfig) *FeedSource {
	return &FeedSource{cfg: cfg}
}

func (f *FeedSource) Name() string {
	return "feed"
}

func (f *FeedSource) Fetch(ctx context.Context, run Run) Outcome {
	if !f.cfg.IsEnabled() {
		log.Println("feed: source disabled, skip")
		return Failure(ReasonDisabled)
	}
	if len(f.cfg.Accounts) == 0 {
		return Failure("no accounts configured")
	}
	if len(f.cfg.Instances) == 0 {
		return Failure("no instances configured")
	}
	log.Printf("feed: accounts=%d instances=%d", len(f.cfg.Accounts), len(f.cfg.Instances))

	snap := &TweetSnapshot{}
	accounts := f.cfg.Accounts

	// 逐个实例尝试，直到某个账号在该实例上取到数据。
	// 账号级错误（404、空 feed）只记录到 Errors，实例级错误（网络、限流、5xx）换下一个实例
	var probeErrs []string
	next := 0
	for _, inst := range f.cfg.Instances {
		var accountErrs []string
		instanceOK := false
		i := 0
		for ; i < len(accounts); i++ {
			if err := ctx.Err(); err != nil {
				return Failure(err.Error())
			}
			tweets, err := fetchAccountFeed(inst, accounts[i])
			if err == nil {
				snap.Tweets = append(snap.Tweets, tweets...)
				instanceOK = true
				break
			}
			if !isAccountError(err) {
				log.Printf("feed: instance %s: %v", inst, err)
				probeErrs = append(probeErrs, fmt.Sprintf("%s: %v", inst, err))
				break
			}
			log.Printf("feed: account %s: %v", accounts[i], err)
			accountErrs = append(accountErrs, fmt.Sprintf("%s: %v", accounts[i], err))
		}
		if instanceOK {
			snap.Instance = inst
			snap.Errors = append(snap.Errors, accountErrs...)
			next = i + 1
			break
		}
		if i == len(accounts) {
			probeErrs = append(probeErrs, fmt.Sprintf("%s: no account returned tweets", inst))
		}
	}
	if snap.Instance == "" {
		return Failure("all instances failed: " + strings.Join(probeErrs, "; "))
	}
	log.Printf("feed: using instance %s", snap.Instance)

	for _, account := range accounts[next:] {
		if err := ctx.Err(); err != nil {
			snap.Errors = append(snap.Errors, fmt.Sprintf("%s: %v", account, err))
			break
		}
		tweets, err := fetchAccountFeed(snap.Instance, account)
		if err != nil {
			log.Printf("feed: account %s: %v", account, err)
			snap.Errors = append(snap.Errors, fmt.Sprintf("%s: %v", account, err))
			continue
		}
		snap.Tweets = append(snap.Tweets, tweets...)
	}
	return Success(snap)
}

// errEmptyFeed 表示实例正常响应但账号没有任何推文
var errEmptyFeed = errors.New("empty feed")

// accountError 表示问题出在账号本身（不存在、已改名或被封禁），实例本身可用
type accountError struct {
	status int
}

func (e *accountError) Error() string {
	return fmt.Sprintf("account unavailable: status %d", e.status)
}

func isAccountError(err error) bool {
	var ae *accountError
	return errors.Is(err, errEmptyFeed) || errors.As(err, &ae)
}

// pubDate 常见两种写法：数字时区（+0000）与时区名（GMT）
var pubDateLayouts = []string{time.RFC1123Z, time.RFC1123}

func parsePubDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range pubDateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func fetchAccountFeed(instance, account string) ([]Tweet, error) {
	account = strings.TrimPrefix(strings.TrimSpace(account), "@")
	feedURL := strings.TrimRight(instance, "/") + "/" + url.PathEscape(account) + "/rss"

	c := colly.NewCollector(colly.UserAgent(feedUserAgent))
	c.SetRequestTimeout(feedRequestTimeout)

	var tweets []Tweet
	c.OnXML("//item", func(e *colly.XMLElement) {
		text := strings.TrimSpace(e.ChildText("title"))
		if text == "" {
			return
		}
		tw := Tweet{
			Username: account,
			Text:     text,
			Link:     strings.TrimSpace(e.ChildText("link")),
		}
		if ts, ok := parsePubDate(e.ChildText("pubDate")); ok {
			tw.Timestamp = ts
		}
		tweets = append(tweets, tw)
	})

	status := 0
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	if err := c.Visit(feedURL); err != nil {
		if status == http.StatusNotFound || status == http.StatusGone {
			return nil, &accountError{status: status}
		}
		return nil, err
	}
	if len(tweets) == 0 {
		return nil, errEmptyFeed
	}
	return tweets, nil
}
