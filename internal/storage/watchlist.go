package storage

import (
	"strings"
	"time"
)

// WatchedStock 是通过 API 维护的自选股，行情源每次运行时与配置中的代码合并
type WatchedStock struct {
	Code      string    `gorm:"primaryKey;size:16" json:"code"`
	CreatedAt time.Time `json:"createdAt"`
}

// WatchlistCodes 返回所有自选股代码（按添加顺序）。查询失败时返回 nil，行情源只使用配置中的代码
func (s *Store) WatchlistCodes() []string {
	var list []WatchedStock
	if err := s.DB.Order("created_at ASC").Find(&list).Error; err != nil {
		return nil
	}
	codes := make([]string, 0, len(list))
	for _, r := range list {
		codes = append(codes, r.Code)
	}
	return codes
}

// AddWatchedStock 添加自选股（已存在则忽略）。code 需先经过 NormalizeStockCode
func (s *Store) AddWatchedStock(code string) error {
	r := WatchedStock{Code: code, CreatedAt: time.Now()}
	return s.DB.Where("code = ?", code).FirstOrCreate(&r).Error
}

func (s *Store) RemoveWatchedStock(code string) error {
	return s.DB.Where("code = ?", code).Delete(&WatchedStock{}).Error
}

// NormalizeStockCode 规范为 6 位数字代码，不合法时返回空串
func NormalizeStockCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" || len(code) > 6 {
		return ""
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return ""
		}
	}
	return strings.Repeat("0", 6-len(code)) + code
}
