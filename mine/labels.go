// Package mine holds the static label tables, the training-range advisory and
// the detection context shared by every request.
package mine

import (
	"fmt"
	"sort"
)

var soilTypes = map[float64]string{
	0.0: "Dry and Sandy",
	0.2: "Dry and Humus",
	0.4: "Dry and Limy",
	0.6: "Humid and Sandy",
	0.8: "Humid and Humus",
	1.0: "Humid and Limy",
}

var mineTypes = map[int]string{
	1: "Null",
	2: "Anti-Tank",
	3: "Anti-personnel",
	4: "Booby Trapped Anti-personnel",
	5: "M14 Anti-personnel",
}

// UnknownLabelError reports a class with no entry in the mine type table.
type UnknownLabelError struct {
	Class int
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("unknown mine class %d", e.Class)
}

// SoilTypeMap returns a copy of the soil code table.
func SoilTypeMap() map[float64]string {
	m := make(map[float64]string, len(soilTypes))
	for k, v := range soilTypes {
		m[k] = v
	}
	return m
}

// MineTypeMap returns a copy of the mine class table.
func MineTypeMap() map[int]string {
	m := make(map[int]string, len(mineTypes))
	for k, v := range mineTypes {
		m[k] = v
	}
	return m
}

func SoilTypeName(code float64) (string, bool) {
	name, ok := soilTypes[code]
	return name, ok
}

// MineTypeName never falls back to a default: a class outside the table is an error.
func MineTypeName(class int) (string, error) {
	name, ok := mineTypes[class]
	if !ok {
		return "", &UnknownLabelError{Class: class}
	}
	return name, nil
}

// CheckLabels verifies that every class the model can emit has a display name.
func CheckLabels(classes []int) error {
	for _, class := range classes {
		if _, err := MineTypeName(class); err != nil {
			return err
		}
	}
	return nil
}

// MineClass is one row of the mine type table.
type MineClass struct {
	Class int    `json:"class"`
	Name  string `json:"name"`
}

// MineClasses lists the mine type table in class order.
func MineClasses() []MineClass {
	classes := make([]MineClass, 0, len(mineTypes))
	for class, name := range mineTypes {
		classes = append(classes, MineClass{Class: class, Name: name})
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i].Class < classes[j].Class })
	return classes
}
