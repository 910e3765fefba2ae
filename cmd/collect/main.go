package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LJTian/FinRadar/internal/config"
	"github.com/LJTian/FinRadar/internal/report"
	"github.com/LJTian/FinRadar/internal/scheduler"
	"github.com/LJTian/FinRadar/internal/storage"
)

type flags struct {
	market     bool
	twitter    bool
	wechat     bool
	trendradar bool
	all        bool
	output     string
}

// selection 把命令行开关转换为数据源选择；不带任何开关或带 --all 时全选
func (f flags) selection() scheduler.Selection {
	if f.all {
		return scheduler.All()
	}
	var names []string
	if f.market {
		names = append(names, scheduler.SourceMarket)
	}
	if f.twitter {
		names = append(names, scheduler.SourceFeed)
	}
	if f.wechat {
		names = append(names, scheduler.SourceArticle)
	}
	if f.trendradar {
		names = append(names, scheduler.SourceExternalTool)
	}
	return scheduler.NewSelection(names...)
}

func newRootCmd(exitCode *int) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run one FinRadar fetch across the selected sources",
		Long: `Fetch market quotes, tweets, WeChat articles and the TrendRadar hot list once,
write timestamped result files and print a summary. Without flags every source runs.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if f.output != "" {
				cfg.OutputDir = f.output
			}
			sum := run(cmd.Context(), cfg, f.selection(), cmd.OutOrStdout())
			*exitCode = sum.ExitCode()
			return nil
		},
	}
	cmd.Flags().BoolVarP(&f.market, "market", "m", false, "fetch market quotes")
	cmd.Flags().BoolVarP(&f.twitter, "twitter", "t", false, "fetch tweets via nitter")
	cmd.Flags().BoolVarP(&f.wechat, "wechat", "w", false, "fetch WeChat articles")
	cmd.Flags().BoolVarP(&f.trendradar, "trendradar", "r", false, "run TrendRadar")
	cmd.Flags().BoolVarP(&f.all, "all", "a", false, "run every source")
	cmd.Flags().StringVar(&f.output, "output", "", "output root directory (default $OUTPUT_DIR or ./output)")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, sel scheduler.Selection, out io.Writer) report.Summary {
	p := &scheduler.Pipeline{
		Files: storage.NewResultStore(cfg.OutputDir),
		Out:   out,
	}

	// 台账可选：配置了 Postgres 时记录本次运行并读取自选股
	var watchlist func() []string
	if cfg.PostgresDSN != "" {
		store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
		if err != nil {
			log.Printf("warn: init store failed, run without ledger: %v", err)
		} else {
			for _, ch := range scheduler.Channels(cfg) {
				if _, err := store.EnsureChannel(ch.Code, ch.Name, ch.BaseURL, ch.Enabled); err != nil {
					log.Printf("warn: ensure channel %s failed: %v", ch.Code, err)
				}
			}
			p.Ledger = store
			watchlist = store.WatchlistCodes
		}
	}
	p.Orchestrator = scheduler.NewOrchestrator(scheduler.BuildSources(cfg, watchlist)...)

	fmt.Fprint(out, report.Banner(time.Now(), sel.Names()))
	return p.Execute(ctx, sel)
}

// 一个仅执行一次采集任务的命令行入口：适合手动触发或由系统 cron 调用
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := 1
	if err := newRootCmd(&exitCode).ExecuteContext(ctx); err != nil {
		log.Fatalf("collect: %v", err)
	}
	stop()
	os.Exit(exitCode)
}
