package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/LJTian/FinRadar/internal/processor"
)

const (
	wechatMaxResponseBytes = 4 << 20 // 4MB，正文 HTML 可能较大
	wechatUserAgent        = "FinRadarBot/1.0"
)

// ErrAccountNotFound 表示按名称搜索不到公众号
var ErrAccountNotFound = errors.New("account not found")

// WechatAccount 是搜索到的公众号
type WechatAccount struct {
	FakeID   string `json:"fakeid"`
	Nickname string `json:"nickname"`
}

// WechatClient 通过公众号文章服务（wechat-article-exporter 兼容接口）检索文章。
// 每个实例持有独立的连接池，用完必须 Close
type WechatClient struct {
	baseURL   string
	authKey   string
	client    *http.Client
	transport *http.Transport
}

func NewWechatClient(baseURL, authKey string, timeout time.Duration) *WechatClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	return &WechatClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authKey:   authKey,
		transport: tr,
		client:    &http.Client{Timeout: timeout, Transport: tr},
	}
}

// Close 释放空闲连接
func (c *WechatClient) Close() {
	c.transport.CloseIdleConnections()
}

// Ping 检查服务是否可达：网络错误或 5xx 视为不可达
func (c *WechatClient) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, c.baseURL+"/")
	if err != nil {
		return fmt.Errorf("wechat: service unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, wechatMaxResponseBytes))
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("wechat: service unreachable: status %d", resp.StatusCode)
	}
	return nil
}

type wechatBaseResp struct {
	Ret    int    `json:"ret"`
	ErrMsg string `json:"err_msg"`
}

func (b wechatBaseResp) err() error {
	if b.Ret != 0 {
		return fmt.Errorf("ret=%d %s", b.Ret, b.ErrMsg)
	}
	return nil
}

// SearchAccount 按名称搜索公众号，取第一个结果
func (c *WechatClient) SearchAccount(ctx context.Context, name string) (WechatAccount, error) {
	params := url.Values{"keyword": {name}, "size": {"1"}}
	var out struct {
		BaseResp wechatBaseResp  `json:"base_resp"`
		List     []WechatAccount `json:"list"`
	}
	if err := c.getJSON(ctx, "/api/public/v1/account?"+params.Encode(), &out); err != nil {
		return WechatAccount{}, fmt.Errorf("wechat: search %s: %w", name, err)
	}
	if err := out.BaseResp.err(); err != nil {
		return WechatAccount{}, fmt.Errorf("wechat: search %s: %w", name, err)
	}
	if len(out.List) == 0 || out.List[0].FakeID == "" {
		return WechatAccount{}, fmt.Errorf("wechat: search %s: %w", name, ErrAccountNotFound)
	}
	return out.List[0], nil
}

type wechatArticle struct {
	Title      string `json:"title"`
	Link       string `json:"link"`
	Digest     string `json:"digest"`
	AuthorName string `json:"author_name"`
	CreateTime int64  `json:"create_time"`
	UpdateTime int64  `json:"update_time"`
}

// ListArticles 返回公众号最近的文章列表（不含正文）
func (c *WechatClient) ListArticles(ctx context.Context, fakeID string, count int) ([]Article, error) {
	params := url.Values{"fakeid": {fakeID}, "begin": {"0"}, "size": {strconv.Itoa(count)}}
	var out struct {
		BaseResp wechatBaseResp  `json:"base_resp"`
		Articles []wechatArticle `json:"articles"`
	}
	if err := c.getJSON(ctx, "/api/public/v1/article?"+params.Encode(), &out); err != nil {
		return nil, fmt.Errorf("wechat: list %s: %w", fakeID, err)
	}
	if err := out.BaseResp.err(); err != nil {
		return nil, fmt.Errorf("wechat: list %s: %w", fakeID, err)
	}

	articles := make([]Article, 0, len(out.Articles))
	for _, a := range out.Articles {
		art := Article{
			Title:  strings.TrimSpace(a.Title),
			Author: a.AuthorName,
			URL:    a.Link,
			Digest: a.Digest,
		}
		ts := a.CreateTime
		if ts == 0 {
			ts = a.UpdateTime
		}
		if ts > 0 {
			t := time.Unix(ts, 0)
			art.PublishTime = &t
		}
		articles = append(articles, art)
		if count > 0 && len(articles) >= count {
			break
		}
	}
	return articles, nil
}

// ArticleContent 下载文章 HTML 并抽取为 Markdown 正文
func (c *WechatClient) ArticleContent(ctx context.Context, articleURL string) (string, error) {
	params := url.Values{"url": {articleURL}, "format": {"html"}}
	resp, err := c.do(ctx, c.baseURL+"/api/public/v1/download?"+params.Encode())
	if err != nil {
		return "", fmt.Errorf("wechat: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wechat: download: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, wechatMaxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("wechat: download: %w", err)
	}
	content, err := processor.ExtractContent(string(body), articleURL)
	if err != nil {
		return "", fmt.Errorf("wechat: extract: %w", err)
	}
	return content, nil
}

func (c *WechatClient) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, c.baseURL+path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("auth rejected: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, wechatMaxResponseBytes)).Decode(v)
}

func (c *WechatClient) do(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", wechatUserAgent)
	if c.authKey != "" {
		req.Header.Set("X-Auth-Key", c.authKey)
	}
	return c.client.Do(req)
}
