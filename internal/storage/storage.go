package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/LJTian/FinRadar/internal/collector"
)

const (
	latestRunKey = "finradar:run:latest"
	latestRunTTL = 24 * time.Hour
)

// Channel 描述一个数据源，例如 market / feed / article
type Channel struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Code    string `gorm:"size:64;uniqueIndex" json:"code"`
	Name    string `gorm:"size:128" json:"name"`
	BaseURL string `gorm:"size:256" json:"baseUrl"`
	Status  string `gorm:"size:32;index" json:"status"` // active / disabled

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RunRecord 记录一次抓取运行。Sources 以数据源名称为 key，值为该数据源的结果摘要
type RunRecord struct {
	ID         string            `gorm:"primaryKey;size:40" json:"id"`
	StartedAt  time.Time         `gorm:"index" json:"startedAt"`
	FinishedAt time.Time         `json:"finishedAt"`
	OK         bool              `gorm:"index" json:"ok"`
	Sources    datatypes.JSONMap `gorm:"type:jsonb" json:"sources"`
	Summary    string            `gorm:"type:text" json:"summary"`

	CreatedAt time.Time `json:"createdAt"`
}

// NewRunRecord 把 RunResult 与落盘结果整理成一条运行记录
func NewRunRecord(runID string, startedAt, finishedAt time.Time, result *collector.RunResult, reports map[string]PersistReport, summary string) *RunRecord {
	sources := datatypes.JSONMap{}
	for i, e := range result.Entries() {
		item := map[string]any{
			"order": i,
			"ok":    e.Outcome.OK(),
		}
		if e.Outcome.OK() {
			item["detail"] = e.Outcome.Payload().Detail()
		} else {
			item["reason"] = e.Outcome.Reason()
		}
		if r, ok := reports[e.Source]; ok {
			if r.Err != nil {
				item["storeError"] = r.Err.Error()
			} else {
				item["file"] = r.File
			}
		}
		sources[e.Source] = item
	}
	return &RunRecord{
		ID:         runID,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		OK:         result.AllSucceeded(),
		Sources:    sources,
		Summary:    summary,
	}
}

// Store 是运行台账：Postgres 保存渠道与运行记录，Redis 缓存最近一次运行
type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
}

func NewStore(dsn, redisAddr string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Channel{}, &RunRecord{}, &WatchedStock{}); err != nil {
		return nil, err
	}

	s := &Store{DB: db}
	if redisAddr == "" {
		return s, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("warn: redis ping failed: %v", err)
	}
	s.Redis = rdb
	return s, nil
}

// EnsureChannel 确保某个数据源存在，并同步当前的启用状态
func (s *Store) EnsureChannel(code, name, baseURL string, enabled bool) (*Channel, error) {
	status := "active"
	if !enabled {
		status = "disabled"
	}

	ch := &Channel{}
	if err := s.DB.Where("code = ?", code).First(ch).Error; err == nil {
		if ch.Status != status || ch.BaseURL != baseURL {
			err := s.DB.Model(ch).Updates(map[string]any{"status": status, "base_url": baseURL}).Error
			if err != nil {
				return nil, err
			}
		}
		return ch, nil
	}

	ch = &Channel{
		Code:    code,
		Name:    name,
		BaseURL: baseURL,
		Status:  status,
	}
	if err := s.DB.Create(ch).Error; err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *Store) ListChannels() ([]Channel, error) {
	var list []Channel
	err := s.DB.Order("id ASC").Find(&list).Error
	return list, err
}

// RecordRun 写入运行记录，并刷新最近一次运行的缓存
func (s *Store) RecordRun(ctx context.Context, rec *RunRecord) error {
	if err := s.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return err
	}
	if s.Redis != nil {
		if bs, err := json.Marshal(rec); err == nil {
			if err := s.Redis.Set(ctx, latestRunKey, bs, latestRunTTL).Err(); err != nil {
				log.Printf("warn: cache latest run: %v", err)
			}
		}
	}
	return nil
}

// LatestRun 优先读 Redis，未命中时查库。没有任何运行记录时返回 (nil, nil)
func (s *Store) LatestRun(ctx context.Context) (*RunRecord, error) {
	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, latestRunKey).Bytes(); err == nil {
			var cached RunRecord
			if err := json.Unmarshal(bs, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	var rec RunRecord
	err := s.DB.WithContext(ctx).Order("started_at DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns 按开始时间倒序返回运行记录；ok 非空时按成功与否筛选
func (s *Store) ListRuns(ctx context.Context, limit int, ok *bool) ([]RunRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	db := s.DB.WithContext(ctx).Model(&RunRecord{})
	if ok != nil {
		db = db.Where("ok = ?", *ok)
	}
	var list []RunRecord
	if err := db.Order("started_at DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// GetRun 按 ID 查询运行记录
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
