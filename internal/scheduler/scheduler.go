package scheduler

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/LJTian/FinRadar/internal/collector"
	"github.com/LJTian/FinRadar/internal/report"
	"github.com/LJTian/FinRadar/internal/storage"
)

// RunLedger 保存运行记录，daemon 中由 storage.Store 实现
type RunLedger interface {
	RecordRun(ctx context.Context, rec *storage.RunRecord) error
}

// Pipeline 把一次完整运行串起来：抓取、落盘、汇总、记账
type Pipeline struct {
	Orchestrator *Orchestrator
	Files        *storage.ResultStore
	// Ledger 可选
	Ledger RunLedger
	// Out 接收标题、预览与汇总文本，为空时只写日志
	Out io.Writer
}

func (p *Pipeline) Execute(ctx context.Context, sel Selection) report.Summary {
	out := p.Out
	if out == nil {
		out = io.Discard
	}
	if p.Orchestrator.OnOutcome == nil {
		p.Orchestrator.OnOutcome = func(name string, o collector.Outcome) {
			if o.OK() {
				report.Preview(out, name, o.Payload())
			}
		}
	}

	run, result := p.Orchestrator.Run(ctx, sel)
	reports := p.Files.PersistAll(result, run.StartedAt)
	finished := time.Now()
	summary := report.Render(result, reports, finished)

	_, _ = io.WriteString(out, summary.Text)
	log.Printf("scheduler: run %s done, ok=%v", run.ID, summary.OK)

	if p.Ledger != nil {
		rec := storage.NewRunRecord(run.ID, run.StartedAt, finished, result, reports, summary.Text)
		if err := p.Ledger.RecordRun(ctx, rec); err != nil {
			log.Printf("scheduler: record run %s error: %v", run.ID, err)
		}
	}
	return summary
}

// Scheduler 按 cron 表达式周期性地执行全部数据源。上一轮未结束时跳过本轮
type Scheduler struct {
	cron     *cron.Cron
	pipeline *Pipeline
	ctx      context.Context
	cancel   context.CancelFunc
	// mu 保证同一时刻只有一次运行
	mu sync.Mutex
}

func New(spec string, p *Pipeline) (*Scheduler, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log.Default()))))
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron:     c,
		pipeline: p,
		ctx:      ctx,
		cancel:   cancel,
	}

	if _, err := c.AddFunc(spec, s.runOnce); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		log.Printf("scheduler: next run at %s", e.Next.Format(time.RFC3339))
	}
}

// Stop 停止定时触发并取消正在进行的运行，等待其退出（包括 Trigger 启动的运行）
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.mu.Lock()
	defer s.mu.Unlock()
}

// RunOnce 对外暴露的单次执行入口，方便手动触发采集
func (s *Scheduler) RunOnce() report.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipeline.Execute(s.ctx, All())
}

// Trigger 在后台启动一次运行；已有运行进行中时返回 false
func (s *Scheduler) Trigger() bool {
	if !s.mu.TryLock() {
		return false
	}
	go func() {
		defer s.mu.Unlock()
		s.pipeline.Execute(s.ctx, All())
	}()
	return true
}

func (s *Scheduler) runOnce() {
	log.Println("start collect job...")
	s.RunOnce()
	log.Println("collect job done (all sources)")
}
