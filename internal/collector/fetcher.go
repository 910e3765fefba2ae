package collector

import (
	"context"
	"time"
)

// 失败原因中的固定文案，汇总和测试都依赖这些值
const (
	ReasonDisabled = "disabled"
	ReasonTimeout  = "timeout"
)

// Run 描述一次抓取运行的公共信息，由编排器在运行开始时生成
type Run struct {
	ID        string
	StartedAt time.Time
}

// Source 抽象每一个数据源。Fetch 不向外抛出错误：网络、鉴权、解析等问题都以 Failure 形式返回
type Source interface {
	Name() string
	Fetch(ctx context.Context, run Run) Outcome
}

// Payload 是抓取成功时携带的数据
type Payload interface {
	// Detail 用于汇总行，例如 "5 tweets"
	Detail() string
}

// Snapshot 是需要落盘的 Payload：Dir 为输出子目录，Prefix 为文件名前缀
type Snapshot interface {
	Payload
	Dir() string
	Prefix() string
	Record(at time.Time) any
}

// Outcome 是单个数据源一次抓取的结果：Success(payload) 或 Failure(reason)
type Outcome struct {
	ok      bool
	payload Payload
	reason  string
}

func Success(p Payload) Outcome {
	return Outcome{ok: true, payload: p}
}

func Failure(reason string) Outcome {
	if reason == "" {
		reason = "unknown error"
	}
	return Outcome{reason: reason}
}

func (o Outcome) OK() bool         { return o.ok }
func (o Outcome) Payload() Payload { return o.payload }
func (o Outcome) Reason() string   { return o.reason }
