package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/LJTian/FinRadar/internal/collector"
)

// FileStampLayout 是结果文件名中的时间戳格式，取运行开始时间
const FileStampLayout = "20060102_1504"

// PersistReport 是单个数据源落盘的结果；Err 与抓取失败相互独立
type PersistReport struct {
	File string
	Err  error
}

// ResultStore 把成功的快照写成 <root>/<dir>/<prefix>_<YYYYMMDD_HHMM>.json，已有文件不会被覆盖
type ResultStore struct {
	root string
}

func NewResultStore(root string) *ResultStore {
	if root == "" {
		root = "output"
	}
	return &ResultStore{root: root}
}

func (s *ResultStore) Root() string {
	return s.root
}

// PersistAll 在运行结束后调用，只读 RunResult。失败的数据源以及没有快照的 Payload 不写文件
func (s *ResultStore) PersistAll(result *collector.RunResult, startedAt time.Time) map[string]PersistReport {
	reports := make(map[string]PersistReport)
	for _, e := range result.Entries() {
		if !e.Outcome.OK() {
			continue
		}
		snap, ok := e.Outcome.Payload().(collector.Snapshot)
		if !ok {
			continue
		}
		file, err := s.write(snap, startedAt)
		if err != nil {
			log.Printf("storage: persist %s: %v", e.Source, err)
		} else {
			log.Printf("storage: %s saved to %s", e.Source, file)
		}
		reports[e.Source] = PersistReport{File: file, Err: err}
	}
	return reports
}

// PathFor 返回快照在本次运行中的文件路径
func (s *ResultStore) PathFor(snap collector.Snapshot, startedAt time.Time) string {
	name := fmt.Sprintf("%s_%s.json", snap.Prefix(), startedAt.Format(FileStampLayout))
	return filepath.Join(s.root, snap.Dir(), name)
}

// maxSameMinuteFiles 限制同一分钟内同一数据源的文件数
const maxSameMinuteFiles = 100

// write 从不覆盖已有文件：同一分钟内已有同名文件时依次尝试 _2、_3 … 后缀
func (s *ResultStore) write(snap collector.Snapshot, startedAt time.Time) (string, error) {
	base := s.PathFor(snap, startedAt)
	if err := os.MkdirAll(filepath.Dir(base), 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}

	f, path, err := createExclusive(base)
	if err != nil {
		return "", err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap.Record(startedAt)); err != nil {
		f.Close()
		return "", fmt.Errorf("encode: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close: %w", err)
	}
	return path, nil
}

func createExclusive(base string) (*os.File, string, error) {
	stem := strings.TrimSuffix(base, ".json")
	path := base
	for n := 2; ; n++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create: %w", err)
		}
		if n > maxSameMinuteFiles {
			return nil, "", fmt.Errorf("create: %s: too many files in the same minute", base)
		}
		path = fmt.Sprintf("%s_%d.json", stem, n)
	}
}
