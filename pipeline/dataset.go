// Package pipeline 提供训练数据的加载与清洗
package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// 必需列
const (
	ColumnVoltage = "V"
	ColumnHeight  = "H"
	ColumnSoil    = "S"
	ColumnMine    = "M"
)

// SensorRecord 一条训练样本
type SensorRecord struct {
	Voltage float64 `json:"voltage"`
	Height  float64 `json:"height"`
	Soil    float64 `json:"soil"`
	Mine    int     `json:"mine"`
}

// Vector 特征向量，顺序为 V, H, S
func (r SensorRecord) Vector() []float64 {
	return []float64{r.Voltage, r.Height, r.Soil}
}

// Range 闭区间
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains 判断数值是否在区间内（含端点）
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Midpoint 区间中点
func (r Range) Midpoint() float64 {
	return (r.Min + r.Max) / 2
}

// ClassCount 类别样本数
type ClassCount struct {
	Class int `json:"class"`
	Count int `json:"count"`
}

// Dataset 清洗后的数据集及其统计量
type Dataset struct {
	Source     string         `json:"source"`
	Columns    []string       `json:"columns"`
	Records    []SensorRecord `json:"records"`
	Voltage    Range          `json:"voltage"`
	Height     Range          `json:"height"`
	SoilValues []float64      `json:"soil_values"`
	Stats      CleaningStats  `json:"stats"`
	Issues     []QualityIssue `json:"issues,omitempty"`
}

// Features 特征矩阵
func (d *Dataset) Features() [][]float64 {
	features := make([][]float64, len(d.Records))
	for i, r := range d.Records {
		features[i] = r.Vector()
	}
	return features
}

// Labels 标签向量
func (d *Dataset) Labels() []int {
	labels := make([]int, len(d.Records))
	for i, r := range d.Records {
		labels[i] = r.Mine
	}
	return labels
}

// ClassDistribution 按类别升序统计样本数
func (d *Dataset) ClassDistribution() []ClassCount {
	counts := make(map[int]int)
	for _, r := range d.Records {
		counts[r.Mine]++
	}
	result := make([]ClassCount, 0, len(counts))
	for class, count := range counts {
		result = append(result, ClassCount{Class: class, Count: count})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Class < result[j].Class })
	return result
}

// LoaderConfig 加载配置
type LoaderConfig struct {
	Path     string
	Encoding string
}

// LoadAndClean 以默认编码加载并清洗数据集
func LoadAndClean(path string) (*Dataset, error) {
	return Load(LoaderConfig{Path: path})
}

// Load 读取 CSV，剔除缺失值与重复行，并计算各特征的边界
func Load(config LoaderConfig) (*Dataset, error) {
	file, err := os.Open(config.Path)
	if err != nil {
		return nil, loadError(config.Path, ErrUnreadable, err)
	}
	defer file.Close()

	reader, err := decodeReader(file, config.Encoding)
	if err != nil {
		return nil, loadError(config.Path, ErrUnreadable, err)
	}
	return Parse(reader, config.Path)
}

// Parse 从任意 reader 解析数据集，source 记录在数据集和错误信息中
func Parse(r io.Reader, source string) (*Dataset, error) {
	reader := csv.NewReader(r)
	// 短行按缺失值剔除，长行在下方报错
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, loadError(source, ErrEmptyDataset, errors.New("no header row"))
	}
	if err != nil {
		return nil, loadError(source, ErrUnreadable, err)
	}

	index, err := columnIndex(header)
	if err != nil {
		return nil, loadError(source, ErrMissingColumn, err)
	}

	var rows []*Row
	for {
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, loadError(source, ErrUnreadable, err)
		}
		line, _ := reader.FieldPos(0)
		if len(fields) > len(header) {
			return nil, loadError(source, ErrUnreadable, fmt.Errorf("line %d: %d fields, header has %d", line, len(fields), len(header)))
		}
		rows = append(rows, &Row{Line: line, Fields: fields})
	}

	cleaner := NewDataCleaner(header)
	cleaned, issues := cleaner.Clean(rows)
	if len(cleaned) == 0 {
		return nil, loadError(source, ErrEmptyDataset, fmt.Errorf("%d rows read, none usable", len(rows)))
	}

	records := make([]SensorRecord, 0, len(cleaned))
	for _, row := range cleaned {
		record, err := parseRecord(row, index)
		if err != nil {
			return nil, loadError(source, ErrBadValue, err)
		}
		records = append(records, record)
	}

	dataset := &Dataset{
		Source:  source,
		Columns: append([]string(nil), header...),
		Records: records,
		Stats:   cleaner.GetStats(),
		Issues:  issues,
	}
	dataset.computeBounds()
	return dataset, nil
}

type columns struct {
	voltage, height, soil, mine int
}

func columnIndex(header []string) (columns, error) {
	positions := make(map[string]int, len(header))
	for i, name := range header {
		if _, exists := positions[name]; !exists {
			positions[name] = i
		}
	}

	var missing []string
	lookup := func(name string) int {
		i, ok := positions[name]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return i
	}
	idx := columns{
		voltage: lookup(ColumnVoltage),
		height:  lookup(ColumnHeight),
		soil:    lookup(ColumnSoil),
		mine:    lookup(ColumnMine),
	}
	if len(missing) > 0 {
		return idx, fmt.Errorf("header %v lacks %s", header, strings.Join(missing, ", "))
	}
	return idx, nil
}

func parseRecord(row *Row, idx columns) (SensorRecord, error) {
	parse := func(column string, i int) (float64, error) {
		v, err := strconv.ParseFloat(strings.TrimSpace(row.Fields[i]), 64)
		if err != nil {
			return 0, fmt.Errorf("line %d column %s: %q", row.Line, column, row.Fields[i])
		}
		return v, nil
	}

	voltage, err := parse(ColumnVoltage, idx.voltage)
	if err != nil {
		return SensorRecord{}, err
	}
	height, err := parse(ColumnHeight, idx.height)
	if err != nil {
		return SensorRecord{}, err
	}
	soil, err := parse(ColumnSoil, idx.soil)
	if err != nil {
		return SensorRecord{}, err
	}
	mine, err := parse(ColumnMine, idx.mine)
	if err != nil {
		return SensorRecord{}, err
	}

	return SensorRecord{
		Voltage: voltage,
		Height:  height,
		Soil:    soil,
		Mine:    int(mine),
	}, nil
}

func (d *Dataset) computeBounds() {
	first := d.Records[0]
	d.Voltage = Range{Min: first.Voltage, Max: first.Voltage}
	d.Height = Range{Min: first.Height, Max: first.Height}

	soils := make(map[float64]struct{})
	for _, r := range d.Records {
		if r.Voltage < d.Voltage.Min {
			d.Voltage.Min = r.Voltage
		}
		if r.Voltage > d.Voltage.Max {
			d.Voltage.Max = r.Voltage
		}
		if r.Height < d.Height.Min {
			d.Height.Min = r.Height
		}
		if r.Height > d.Height.Max {
			d.Height.Max = r.Height
		}
		soils[r.Soil] = struct{}{}
	}

	d.SoilValues = make([]float64, 0, len(soils))
	for s := range soils {
		d.SoilValues = append(d.SoilValues, s)
	}
	sort.Float64s(d.SoilValues)
}
