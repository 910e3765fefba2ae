package collector

import "fmt"

// Entry 是 RunResult 中的一项
type Entry struct {
	Source  string
	Outcome Outcome
}

// RunResult 按执行顺序记录每个数据源的结果，每个数据源只能写入一次
type RunResult struct {
	entries []Entry
	index   map[string]int
}

func NewRunResult() *RunResult {
	return &RunResult{index: make(map[string]int)}
}

// Set 记录某个数据源的结果；重复写入返回错误且不覆盖已有结果
func (r *RunResult) Set(source string, o Outcome) error {
	if _, ok := r.index[source]; ok {
		return fmt.Errorf("run result: outcome for %s already set", source)
	}
	r.index[source] = len(r.entries)
	r.entries = append(r.entries, Entry{Source: source, Outcome: o})
	return nil
}

func (r *RunResult) Get(source string) (Outcome, bool) {
	i, ok := r.index[source]
	if !ok {
		return Outcome{}, false
	}
	return r.entries[i].Outcome, true
}

// Entries 返回执行顺序的副本
func (r *RunResult) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *RunResult) Len() int {
	return len(r.entries)
}

// AllSucceeded 当且仅当每个已记录的数据源都成功时返回 true
func (r *RunResult) AllSucceeded() bool {
	for _, e := range r.entries {
		if !e.Outcome.OK() {
			return false
		}
	}
	return true
}
