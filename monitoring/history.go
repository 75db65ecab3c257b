package monitoring

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"minedetect/mine"
)

// History 最近检测记录，容量固定，超出后淘汰最旧的记录
type History struct {
	cache *lru.Cache[string, mine.Detection]
}

// NewHistory 创建检测历史，size 为保留条数
func NewHistory(size int) (*History, error) {
	if size <= 0 {
		size = 100
	}
	cache, err := lru.New[string, mine.Detection](size)
	if err != nil {
		return nil, err
	}
	return &History{cache: cache}, nil
}

// Publish 实现 mine.Sink
func (h *History) Publish(_ context.Context, d mine.Detection) error {
	h.cache.Add(d.ID, d)
	return nil
}

// Recent 返回最近 n 条记录，最新的在前；n<=0 返回全部
func (h *History) Recent(n int) []mine.Detection {
	values := h.cache.Values()
	if n <= 0 || n > len(values) {
		n = len(values)
	}
	result := make([]mine.Detection, 0, n)
	for i := len(values) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, values[i])
	}
	return result
}

// Get 按检测 ID 查找
func (h *History) Get(id string) (mine.Detection, bool) {
	return h.cache.Peek(id)
}

// Len 当前记录数
func (h *History) Len() int {
	return h.cache.Len()
}
