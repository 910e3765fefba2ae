package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/LJTian/FinRadar/internal/config"
	"github.com/LJTian/FinRadar/internal/processor"
)

const (
	processTailLines     = 10
	processStderrExcerpt = 200
	processWaitDelay     = 5 * time.Second
)

// ProcessReport 是外部工具成功运行后的结果，Tail 为标准输出的最后几行
type ProcessReport struct {
	Tail     []string
	Duration time.Duration
}

func (p *ProcessReport) Detail() string { return "success" }

// ProcessSource 以子进程方式运行外部热榜工具，超时后终止整个进程组。
// 退出码 0 为成功，非 0 为失败，不做重试
type ProcessSource struct {
	cfg config.TrendRadarConfig
	dir string
}

func NewProcessSource(cfg config.TrendRadarConfig, projectRoot string) *ProcessSource {
	dir := cfg.Dir
	if dir == "" {
		dir = projectRoot
	}
	return &ProcessSource{cfg: cfg, dir: dir}
}

func (p *ProcessSource) Name() string {
	return "external-tool"
}

func (p *ProcessSource) Fetch(ctx context.Context, run Run) Outcome {
	if !p.cfg.IsEnabled() {
		log.Println("external-tool: source disabled, skip")
		return Failure(ReasonDisabled)
	}
	if p.cfg.Command == "" {
		return Failure("no command configured")
	}

	timeout := p.cfg.Timeout()
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.cfg.Command, p.cfg.Args...)
	cmd.Dir = p.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = processWaitDelay
	killProcessGroupOnCancel(cmd)

	log.Printf("external-tool: run %s %s (timeout %s)", p.cfg.Command, strings.Join(p.cfg.Args, " "), timeout)
	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Printf("external-tool: timeout after %s", elapsed.Round(time.Millisecond))
		return Failure(ReasonTimeout)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Failure(ctxErr.Error())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			excerpt := processor.TruncateRunes(stderr.String(), processStderrExcerpt)
			if excerpt == "" {
				excerpt = err.Error()
			}
			log.Printf("external-tool: exit code %d", exitErr.ExitCode())
			return Failure(excerpt)
		}
		return Failure(fmt.Sprintf("external-tool: start: %v", err))
	}

	log.Printf("external-tool: done in %s", elapsed.Round(time.Millisecond))
	return Success(&ProcessReport{Tail: tailLines(stdout.String(), processTailLines), Duration: elapsed})
}

func tailLines(s string, n int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
