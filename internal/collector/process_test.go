//go:build unix

package collector

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/FinRadar/internal/config"
)

func shellSource(script string, timeout time.Duration, dir string) *ProcessSource {
	return NewProcessSource(config.TrendRadarConfig{
		Command:    "/bin/sh",
		Args:       []string{"-c", script},
		TimeoutSec: timeout.Seconds(),
	}, dir)
}

func TestProcessSourceSuccessKeepsOutputTail(t *testing.T) {
	dir := t.TempDir()
	src := shellSource(`for i in $(seq 1 15); do echo "line $i"; done; pwd -P`, 10*time.Second, dir)

	out := src.Fetch(context.Background(), Run{StartedAt: time.Now()})
	require.True(t, out.OK(), out.Reason())

	report := out.Payload().(*ProcessReport)
	require.Len(t, report.Tail, processTailLines)
	assert.Equal(t, "line 7", report.Tail[0])
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, report.Tail[len(report.Tail)-1], "runs in the project root")
	assert.Equal(t, "success", report.Detail())
}

func TestProcessSourceNonZeroExitReportsStderr(t *testing.T) {
	long := strings.Repeat("e", 500)
	src := shellSource(`echo "`+long+`" >&2; exit 2`, 10*time.Second, t.TempDir())

	out := src.Fetch(context.Background(), Run{StartedAt: time.Now()})
	require.False(t, out.OK())
	assert.True(t, strings.HasPrefix(out.Reason(), "eeee"))
	assert.Equal(t, processStderrExcerpt+1, len([]rune(out.Reason())), "excerpt plus ellipsis")
}

func TestProcessSourceNonZeroExitWithoutStderr(t *testing.T) {
	out := shellSource(`exit 3`, 10*time.Second, t.TempDir()).Fetch(context.Background(), Run{})
	require.False(t, out.OK())
	assert.Equal(t, "exit status 3", out.Reason())
}

func TestProcessSourceTimeoutKillsChild(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "pid")
	src := shellSource(`echo $$ > `+pidFile+`; exec sleep 30`, 300*time.Millisecond, dir)

	start := time.Now()
	out := src.Fetch(context.Background(), Run{StartedAt: start})
	elapsed := time.Since(start)

	require.False(t, out.OK())
	assert.Equal(t, ReasonTimeout, out.Reason())
	assert.Less(t, elapsed, 5*time.Second)

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)
	assert.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH, "child must not be running after timeout")
}

func TestProcessSourceMissingCommand(t *testing.T) {
	src := NewProcessSource(config.TrendRadarConfig{Command: "/nonexistent/trendradar", TimeoutSec: 1}, t.TempDir())
	out := src.Fetch(context.Background(), Run{})
	require.False(t, out.OK())
	assert.Contains(t, out.Reason(), "external-tool: start")
}

func TestProcessSourceDisabled(t *testing.T) {
	src := NewProcessSource(config.TrendRadarConfig{Switch: disabled(), Command: "/bin/true"}, ".")
	assert.Equal(t, ReasonDisabled, src.Fetch(context.Background(), Run{}).Reason())
}
