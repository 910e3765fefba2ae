package processor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

// 公众号正文容器，找不到时退回 readability 抽取
var contentSelectors = []string{"#js_content", ".rich_media_content", "article"}

var (
	policy      = bluemonday.UGCPolicy()
	mdConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
)

// ExtractContent 从文章页面 HTML 中抽取正文，清洗后转为 Markdown
func ExtractContent(rawHTML, pageURL string) (string, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return "", fmt.Errorf("empty page")
	}

	body, err := selectBody(rawHTML, pageURL)
	if err != nil {
		return "", err
	}

	clean := policy.Sanitize(body)
	md, err := mdConverter.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	md = trimWhitespace(md)
	if md == "" {
		return "", fmt.Errorf("empty content")
	}
	return md, nil
}

func selectBody(rawHTML, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parse document: %w", err)
	}
	for _, sel := range contentSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 || strings.TrimSpace(node.Text()) == "" {
			continue
		}
		html, err := node.Html()
		if err == nil {
			return html, nil
		}
	}

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), parsed)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	return article.Content, nil
}

// TruncateRunes 按 rune 截断，超出时追加省略号，避免中文被截成半个字符
func TruncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	rs := []rune(s)
	if limit <= 0 || len(rs) <= limit {
		return s
	}
	return string(rs[:limit]) + "…"
}

func trimWhitespace(s string) string {
	// 简单的空白清理，避免过多连续空行
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}
