package market

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// IndustryInfo 股票行业信息
type IndustryInfo struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Industry string `json:"industry"`
	Sector   string `json:"sector"`
}

// IndustryMapping 行业映射文件结构
type IndustryMapping struct {
	Description string         `json:"description"`
	LastUpdated string         `json:"last_updated"`
	Data        []IndustryInfo `json:"data"`
}

// IndustryMap 本地行业映射。新浪/腾讯不返回行业字段，用它补齐。
type IndustryMap struct {
	mu       sync.RWMutex
	filePath string
	byCode   map[string]IndustryInfo
	lastLoad time.Time
}

// LoadIndustryMap 从 JSON 文件加载行业映射
func LoadIndustryMap(filePath string) (*IndustryMap, error) {
	m := &IndustryMap{filePath: filePath}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload 重新加载映射文件，失败时保留旧数据
func (m *IndustryMap) Reload() error {
	data, err := os.ReadFile(m.filePath)
	if err != nil {
		return err
	}
	var mapping IndustryMapping
	if err := json.Unmarshal(data, &mapping); err != nil {
		return fmt.Errorf("parse %s: %w", m.filePath, err)
	}

	byCode := make(map[string]IndustryInfo, len(mapping.Data))
	for _, info := range mapping.Data {
		code := NormalizeCode(info.Symbol)
		if !ValidCode(code) || info.Industry == "" {
			continue
		}
		byCode[code] = info
	}

	m.mu.Lock()
	m.byCode = byCode
	m.lastLoad = time.Now()
	m.mu.Unlock()
	return nil
}

// Lookup 按代码查询行业；nil 接收者始终未命中
func (m *IndustryMap) Lookup(code string) (IndustryInfo, bool) {
	if m == nil {
		return IndustryInfo{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.byCode[NormalizeCode(code)]
	return info, ok
}

// Len 映射条目数
func (m *IndustryMap) Len() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byCode)
}
