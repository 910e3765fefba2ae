package scheduler

import (
	"github.com/LJTian/FinRadar/internal/collector"
	"github.com/LJTian/FinRadar/internal/config"
)

// BuildSources 根据配置创建全部数据源。watchlist 可为空
func BuildSources(cfg *config.Config, watchlist func() []string) []collector.Source {
	market := collector.NewMarketSource(cfg.Sources.Market)
	market.Watchlist = watchlist
	return []collector.Source{
		market,
		collector.NewFeedSource(cfg.Sources.Twitter),
		collector.NewArticleSource(cfg.Sources.Wechat),
		collector.NewProcessSource(cfg.Sources.TrendRadar, cfg.ProjectRoot),
	}
}

// ChannelInfo 描述一个数据源在台账中的登记信息
type ChannelInfo struct {
	Code    string
	Name    string
	BaseURL string
	Enabled bool
}

// Channels 返回按执行顺序排列的数据源登记信息
func Channels(cfg *config.Config) []ChannelInfo {
	s := cfg.Sources
	baseURL := ""
	if len(s.Twitter.Instances) > 0 {
		baseURL = s.Twitter.Instances[0]
	}
	return []ChannelInfo{
		{Code: SourceMarket, Name: "行情（A 股指数 / 自选股 / 黄金）", BaseURL: "https://quote.eastmoney.com", Enabled: s.Market.IsEnabled()},
		{Code: SourceFeed, Name: "Twitter（nitter RSS）", BaseURL: baseURL, Enabled: s.Twitter.IsEnabled()},
		{Code: SourceArticle, Name: "微信公众号文章", BaseURL: s.Wechat.ServiceURL, Enabled: s.Wechat.IsEnabled()},
		{Code: SourceExternalTool, Name: "TrendRadar 热榜", BaseURL: "", Enabled: s.TrendRadar.IsEnabled()},
	}
}
