package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LJTian/FinRadar/internal/config"
)

const (
	eastMoneyStockGetURL   = "https://push2.eastmoney.com/api/qt/stock/get"
	defaultGoldAPIURL      = "https://data-asg.goldprice.org/dbXRates/CNY"
	marketMaxResponseBytes = 256 * 1024
	marketClientTimeout    = 10 * time.Second
	marketUserAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var goldAllowedHosts = []string{"data-asg.goldprice.org", "data-goldprice.org"}

// 三大指数：上证 1.000001，深证成指 0.399001，创业板指 0.399006
var indexSecIDs = []struct {
	SecID string
	Name  string
}{
	{"1.000001", "上证指数"},
	{"0.399001", "深证成指"},
	{"0.399006", "创业板指"},
}

// MarketQuote 是一条行情
type MarketQuote struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Price     float64   `json:"price"`
	ChangePct float64   `json:"change_pct"`
	FetchedAt time.Time `json:"fetched_at"`
}

type MarketSnapshot struct {
	Quotes []MarketQuote
	Errors []string
}

func (m *MarketSnapshot) Detail() string { return fmt.Sprintf("%d quotes", len(m.Quotes)) }
func (m *MarketSnapshot) Dir() string    { return "market" }
func (m *MarketSnapshot) Prefix() string { return "market" }

func (m *MarketSnapshot) Record(at time.Time) any {
	errs := m.Errors
	if errs == nil {
		errs = []string{}
	}
	return struct {
		Timestamp string        `json:"timestamp"`
		Quotes    []MarketQuote `json:"quotes"`
		Errors    []string      `json:"errors"`
	}{Timestamp: at.Format(time.RFC3339), Quotes: m.Quotes, Errors: errs}
}

// MarketSource 拉取 A 股三大指数、自选股（东方财富）与现货黄金价格。
// 逐个请求；部分失败记录在 Errors 中，全部失败时整体失败
type MarketSource struct {
	cfg config.MarketConfig

	// StockURL 与 GoldURL 可在测试中指向本地服务
	StockURL string
	GoldURL  string
	// Watchlist 可选：返回额外的自选股代码（例如数据库中维护的列表），与配置合并去重
	Watchlist func() []string
	client    *http.Client
}

func NewMarketSource(cfg config.MarketConfig) *MarketSource {
	goldURL := cfg.GoldAPIURL
	if goldURL == "" {
		goldURL = defaultGoldAPIURL
	} else if !isAllowedGoldAPIURL(goldURL) {
		log.Printf("market: gold_api_url host not in whitelist, ignoring")
		goldURL = defaultGoldAPIURL
	}
	return &MarketSource{
		cfg:      cfg,
		StockURL: eastMoneyStockGetURL,
		GoldURL:  goldURL,
		client:   &http.Client{Timeout: marketClientTimeout},
	}
}

func (m *MarketSource) Name() string {
	return "market"
}

func (m *MarketSource) Fetch(ctx context.Context, run Run) Outcome {
	if !m.cfg.IsEnabled() {
		log.Println("market: source disabled, skip")
		return Failure(ReasonDisabled)
	}
	log.Println("market: fetch indices, stocks and gold...")

	snap := &MarketSnapshot{}
	var firstErr error
	record := func(q MarketQuote, err error) {
		if err != nil {
			log.Printf("market: %v", err)
			snap.Errors = append(snap.Errors, err.Error())
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		snap.Quotes = append(snap.Quotes, q)
	}

	// 1. 三大指数置顶
	for _, idx := range indexSecIDs {
		record(m.fetchSecID(ctx, idx.SecID, idx.Name, run.StartedAt))
	}
	// 2. 自选股
	for _, code := range m.stockCodes() {
		secID := codeToSecID(code)
		if secID == "" {
			continue
		}
		record(m.fetchSecID(ctx, secID, code, run.StartedAt))
	}
	// 3. 黄金
	record(m.fetchGold(ctx, run.StartedAt))

	if len(snap.Quotes) == 0 {
		if firstErr == nil {
			firstErr = errors.New("market: no quotes")
		}
		return Failure(firstErr.Error())
	}
	return Success(snap)
}

func (m *MarketSource) stockCodes() []string {
	codes := append([]string(nil), m.cfg.StockCodes...)
	if m.Watchlist != nil {
		codes = append(codes, m.Watchlist()...)
	}
	seen := make(map[string]bool, len(codes))
	out := codes[:0]
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// code 为 6 位股票代码，如 600519。返回东方财富 secid：沪 1.xxxxxx，深 0.xxxxxx
func codeToSecID(code string) string {
	if len(code) < 1 {
		return ""
	}
	switch code[0] {
	case '6', '9':
		return "1." + code
	default:
		return "0." + code
	}
}

func (m *MarketSource) fetchSecID(ctx context.Context, secID, fallbackName string, now time.Time) (MarketQuote, error) {
	// f43: 最新价（×100），f170: 涨跌幅（百分比 * 100），f58: 名称
	params := url.Values{"secid": {secID}, "fields": {"f43,f58,f170"}}
	body, err := m.get(ctx, m.StockURL+"?"+params.Encode(), "https://quote.eastmoney.com/")
	if err != nil {
		return MarketQuote{}, fmt.Errorf("market: quote %s: %w", secID, err)
	}
	var payload struct {
		Data *struct {
			F43  float64 `json:"f43"`
			F58  string  `json:"f58"`
			F170 float64 `json:"f170"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return MarketQuote{}, fmt.Errorf("market: quote %s: decode: %w", secID, err)
	}
	if payload.Data == nil {
		return MarketQuote{}, fmt.Errorf("market: quote %s: empty data", secID)
	}
	d := payload.Data
	name := d.F58
	if name == "" {
		name = fallbackName
	}
	return MarketQuote{
		Symbol:    secID,
		Name:      name,
		Price:     d.F43 / 100,
		ChangePct: d.F170 / 100,
		FetchedAt: now,
	}, nil
}

// 对应 data-asg.goldprice.org/dbXRates/CNY 的响应结构
type goldAPIResp struct {
	TSJ   int64 `json:"tsj"`
	Items []struct {
		Curr     string  `json:"curr"`
		XAUPrice float64 `json:"xauPrice"`
		PcXau    float64 `json:"pcXau"`
	} `json:"items"`
}

func (m *MarketSource) fetchGold(ctx context.Context, now time.Time) (MarketQuote, error) {
	body, err := m.get(ctx, m.GoldURL, "")
	if err != nil {
		return MarketQuote{}, fmt.Errorf("market: gold: %w", err)
	}
	var data goldAPIResp
	if err := json.Unmarshal(body, &data); err != nil {
		return MarketQuote{}, fmt.Errorf("market: gold: decode: %w", err)
	}
	if len(data.Items) == 0 {
		return MarketQuote{}, errors.New("market: gold: response has no items")
	}
	// 使用接口返回的时间戳，没有时退回运行开始时间
	t := now
	if data.TSJ != 0 {
		t = time.UnixMilli(data.TSJ)
	}
	it := data.Items[0]
	return MarketQuote{
		Symbol:    "XAU/" + it.Curr,
		Name:      "现货黄金",
		Price:     it.XAUPrice,
		ChangePct: it.PcXau,
		FetchedAt: t,
	}, nil
}

func (m *MarketSource) get(ctx context.Context, u, referer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", marketUserAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, marketMaxResponseBytes))
}

func isAllowedGoldAPIURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "https" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	for _, allowed := range goldAllowedHosts {
		if host == allowed {
			return true
		}
	}
	return false
}
