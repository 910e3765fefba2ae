package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/LJTian/FinRadar/internal/collector"
)

// 数据源名称，同时是固定的执行顺序
const (
	SourceMarket       = "market"
	SourceFeed         = "feed"
	SourceArticle      = "article"
	SourceExternalTool = "external-tool"
)

// ReasonNotRegistered 是选中但没有对应实现的数据源的失败原因
const ReasonNotRegistered = "not registered"

var priority = []string{SourceMarket, SourceFeed, SourceArticle, SourceExternalTool}

// Selection 表示本次运行选中的数据源；一个都没选时等同于全选
type Selection struct {
	names map[string]bool
}

func NewSelection(names ...string) Selection {
	s := Selection{names: make(map[string]bool)}
	for _, n := range names {
		s.names[n] = true
	}
	return s
}

// All 返回全选
func All() Selection {
	return NewSelection()
}

func (s Selection) Has(name string) bool {
	return len(s.names) == 0 || s.names[name]
}

// Names 按执行顺序返回选中的数据源
func (s Selection) Names() []string {
	var out []string
	for _, n := range priority {
		if s.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// Orchestrator 依次执行选中的数据源，单个数据源的失败或 panic 不影响其余数据源
type Orchestrator struct {
	sources map[string]collector.Source
	// OnOutcome 可选，在每个数据源完成后调用（用于终端预览）
	OnOutcome func(name string, out collector.Outcome)
	now       func() time.Time
}

// NewOrchestrator 按名称登记数据源，名称不在固定顺序表中的数据源会被忽略
func NewOrchestrator(sources ...collector.Source) *Orchestrator {
	o := &Orchestrator{sources: make(map[string]collector.Source), now: time.Now}
	for _, s := range sources {
		known := false
		for _, n := range priority {
			if n == s.Name() {
				known = true
				break
			}
		}
		if !known {
			log.Printf("scheduler: unknown source %q ignored", s.Name())
			continue
		}
		o.sources[s.Name()] = s
	}
	return o
}

// Run 执行一次抓取，返回运行信息与结果。RunResult 在返回后不再被修改
func (o *Orchestrator) Run(ctx context.Context, sel Selection) (collector.Run, *collector.RunResult) {
	run := collector.Run{ID: uuid.NewString(), StartedAt: o.now()}
	result := collector.NewRunResult()

	var queue []string
	for _, name := range priority {
		if !sel.Has(name) {
			log.Printf("scheduler: %s not selected", name)
			continue
		}
		log.Printf("scheduler: %s pending", name)
		queue = append(queue, name)
	}

	for _, name := range queue {
		src, ok := o.sources[name]
		if !ok {
			// 选中但没有登记的数据源同样计为失败，保证每个选中的数据源都有结果
			log.Printf("scheduler: %s failed: %s", name, ReasonNotRegistered)
			o.record(result, name, collector.Failure(ReasonNotRegistered))
			continue
		}
		log.Printf("scheduler: %s running", name)
		start := time.Now()
		out := fetchSafely(ctx, src, run)
		if out.OK() {
			log.Printf("scheduler: %s succeeded in %s (%s)", name, time.Since(start).Round(time.Millisecond), out.Payload().Detail())
		} else {
			log.Printf("scheduler: %s failed in %s: %s", name, time.Since(start).Round(time.Millisecond), out.Reason())
		}
		o.record(result, name, out)
	}
	return run, result
}

func (o *Orchestrator) record(result *collector.RunResult, name string, out collector.Outcome) {
	if err := result.Set(name, out); err != nil {
		log.Printf("scheduler: %v", err)
		return
	}
	if o.OnOutcome != nil {
		o.OnOutcome(name, out)
	}
}

func fetchSafely(ctx context.Context, src collector.Source, run collector.Run) (out collector.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = collector.Failure(fmt.Sprintf("panic: %v", r))
		}
	}()
	out = src.Fetch(ctx, run)
	if out.OK() && out.Payload() == nil {
		out = collector.Failure("empty payload")
	}
	return out
}
