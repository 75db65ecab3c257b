package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"minedetect/mine"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

// DetectionMetrics 检测指标，按类别和越界字段计数
type DetectionMetrics struct {
	mu sync.RWMutex

	total         int64
	outOfRange    int64
	byClass       map[int]int64
	byField       map[string]int64
	confidenceSum float64
	lastDetection time.Time

	startTime time.Time
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	Total          int64            `json:"total"`
	OutOfRange     int64            `json:"out_of_range"`
	ByClass        map[int]int64    `json:"by_class"`
	ByField        map[string]int64 `json:"out_of_range_by_field"`
	MeanConfidence float64          `json:"mean_confidence"`
	LastDetection  time.Time        `json:"last_detection,omitempty"`
	Uptime         string           `json:"uptime"`
	Goroutines     int              `json:"goroutines"`
	HeapAlloc      uint64           `json:"heap_alloc"`
}

// NewDetectionMetrics 创建检测指标
func NewDetectionMetrics() *DetectionMetrics {
	return &DetectionMetrics{
		byClass:   make(map[int]int64),
		byField:   make(map[string]int64),
		startTime: time.Now(),
	}
}

// Publish 实现 mine.Sink
func (m *DetectionMetrics) Publish(_ context.Context, d mine.Detection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.byClass[d.Class]++
	m.confidenceSum += d.Confidence
	if d.Advisory.OutOfRange {
		m.outOfRange++
		for _, field := range d.Advisory.Fields {
			m.byField[field]++
		}
	}
	if d.Timestamp.After(m.lastDetection) {
		m.lastDetection = d.Timestamp
	}
	return nil
}

// Snapshot 获取当前指标
func (m *DetectionMetrics) Snapshot() MetricsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := MetricsSnapshot{
		Total:         m.total,
		OutOfRange:    m.outOfRange,
		ByClass:       make(map[int]int64, len(m.byClass)),
		ByField:       make(map[string]int64, len(m.byField)),
		LastDetection: m.lastDetection,
		Uptime:        m.GetUptime().String(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAlloc:     mem.HeapAlloc,
	}
	for class, n := range m.byClass {
		snapshot.ByClass[class] = n
	}
	for field, n := range m.byField {
		snapshot.ByField[field] = n
	}
	if m.total > 0 {
		snapshot.MeanConfidence = m.confidenceSum / float64(m.total)
	}
	return snapshot
}

// GetUptime 获取运行时间
func (m *DetectionMetrics) GetUptime() time.Duration {
	return time.Since(m.startTime)
}

// ExportPrometheus 导出Prometheus文本格式
func (m *DetectionMetrics) ExportPrometheus() string {
	s := m.Snapshot()
	var b strings.Builder

	writeMetric(&b, "minedetect_detections_total", MetricTypeCounter, "Detections served", float64(s.Total))

	classes := make([]int, 0, len(s.ByClass))
	for class := range s.ByClass {
		classes = append(classes, class)
	}
	sort.Ints(classes)
	header(&b, "minedetect_detections_by_class_total", MetricTypeCounter, "Detections by predicted mine class")
	for _, class := range classes {
		name, _ := mine.MineTypeName(class)
		labels := fmt.Sprintf(`{class="%d",name="%s"}`, class, name)
		fmt.Fprintf(&b, "minedetect_detections_by_class_total%s %d\n", labels, s.ByClass[class])
	}

	writeMetric(&b, "minedetect_out_of_range_total", MetricTypeCounter, "Detections with inputs outside the training range", float64(s.OutOfRange))

	fields := make([]string, 0, len(s.ByField))
	for field := range s.ByField {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	header(&b, "minedetect_out_of_range_by_field_total", MetricTypeCounter, "Out of range inputs by field")
	for _, field := range fields {
		fmt.Fprintf(&b, "minedetect_out_of_range_by_field_total{field=\"%s\"} %d\n", field, s.ByField[field])
	}

	writeMetric(&b, "minedetect_mean_confidence", MetricTypeGauge, "Mean ensemble vote share of served detections", s.MeanConfidence)
	writeMetric(&b, "system_goroutines", MetricTypeGauge, "Number of goroutines", float64(s.Goroutines))
	writeMetric(&b, "memory_heap_alloc", MetricTypeGauge, "Memory heap allocated in bytes", float64(s.HeapAlloc))
	return b.String()
}

func header(b *strings.Builder, name string, kind MetricType, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)
}

func writeMetric(b *strings.Builder, name string, kind MetricType, help string, value float64) {
	header(b, name, kind, help)
	fmt.Fprintf(b, "%s %g\n", name, value)
}
