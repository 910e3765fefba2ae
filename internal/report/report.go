package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/LJTian/FinRadar/internal/collector"
	"github.com/LJTian/FinRadar/internal/processor"
	"github.com/LJTian/FinRadar/internal/storage"
)

const (
	reasonLimit  = 200
	previewItems = 3
	previewText  = 80
)

// Summary 是一次运行的汇总文本，OK 为 true 当且仅当所有选中的数据源都成功
type Summary struct {
	Text string
	OK   bool
}

func (s Summary) ExitCode() int {
	if s.OK {
		return 0
	}
	return 1
}

// Render 按执行顺序为每个数据源输出一行；落盘失败另起一行提示，但不影响 OK
func Render(result *collector.RunResult, reports map[string]storage.PersistReport, finishedAt time.Time) Summary {
	var b strings.Builder
	b.WriteString("========== 抓取结果汇总 ==========\n")
	for _, e := range result.Entries() {
		if !e.Outcome.OK() {
			fmt.Fprintf(&b, "❌ %s: %s\n", e.Source, processor.TruncateRunes(e.Outcome.Reason(), reasonLimit))
			continue
		}
		line := fmt.Sprintf("✅ %s: %s", e.Source, e.Outcome.Payload().Detail())
		r, hasReport := reports[e.Source]
		if hasReport && r.Err == nil && r.File != "" {
			line += " → " + r.File
		}
		b.WriteString(line + "\n")
		if hasReport && r.Err != nil {
			fmt.Fprintf(&b, "⚠️ %s: store failed: %v\n", e.Source, r.Err)
		}
	}
	fmt.Fprintf(&b, "完成时间: %s\n", finishedAt.Format("2006-01-02 15:04:05"))
	return Summary{Text: b.String(), OK: result.AllSucceeded()}
}

// Banner 是运行开始时打印的标题
func Banner(startedAt time.Time, selected []string) string {
	return fmt.Sprintf("FinRadar 每日抓取 %s\n数据源: %s\n",
		startedAt.Format("2006-01-02 15:04:05"), strings.Join(selected, ", "))
}

// Preview 打印数据源结果的前几条，便于在终端快速确认
func Preview(w io.Writer, source string, p collector.Payload) {
	var lines []string
	switch v := p.(type) {
	case *collector.MarketSnapshot:
		for _, q := range v.Quotes[:min(len(v.Quotes), previewItems)] {
			lines = append(lines, fmt.Sprintf("%s %.2f (%+.2f%%)", q.Name, q.Price, q.ChangePct))
		}
	case *collector.TweetSnapshot:
		for _, tw := range v.Tweets[:min(len(v.Tweets), previewItems)] {
			lines = append(lines, fmt.Sprintf("@%s: %s", tw.Username, processor.TruncateRunes(oneLine(tw.Text), previewText)))
		}
	case *collector.ArticleSnapshot:
		for _, a := range v.Articles[:min(len(v.Articles), previewItems)] {
			when := "未知时间"
			if a.PublishTime != nil {
				when = a.PublishTime.Format("01-02 15:04")
			}
			lines = append(lines, fmt.Sprintf("[%s] %s (%s)", a.AccountName, processor.TruncateRunes(a.Title, previewText), when))
		}
	case *collector.ProcessReport:
		lines = append(lines, v.Tail...)
	}
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(w, "--- %s ---\n", source)
	for _, l := range lines {
		fmt.Fprintf(w, "  %s\n", l)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
