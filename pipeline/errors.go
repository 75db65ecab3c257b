package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreadable 数据源无法打开或解析
	ErrUnreadable = errors.New("dataset unreadable")
	// ErrMissingColumn 缺少必需列
	ErrMissingColumn = errors.New("required column missing")
	// ErrBadValue 必需列包含非数值
	ErrBadValue = errors.New("non-numeric value in required column")
	// ErrEmptyDataset 清洗后无可用数据
	ErrEmptyDataset = errors.New("dataset empty after cleaning")
)

// DataLoadError 数据加载错误，启动阶段致命
type DataLoadError struct {
	Path   string
	Reason error
	Err    error
}

func (e *DataLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load dataset %q: %v: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("load dataset %q: %v", e.Path, e.Reason)
}

// Is 支持 errors.Is(err, ErrMissingColumn) 等判断
func (e *DataLoadError) Is(target error) bool {
	return e.Reason == target
}

func (e *DataLoadError) Unwrap() error {
	return e.Err
}

func loadError(path string, reason, err error) *DataLoadError {
	return &DataLoadError{Path: path, Reason: reason, Err: err}
}
