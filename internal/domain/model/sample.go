package model

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultVectorCRS используется, когда источник точек не объявляет систему координат.
const DefaultVectorCRS = "EPSG:4326"

// GeometryPoint - единственный допустимый тип геометрии для выборки глубин.
const GeometryPoint = "Point"

type FieldKind int

const (
	FieldOther FieldKind = iota
	FieldNumeric
	FieldString
)

func (k FieldKind) String() string {
	switch k {
	case FieldNumeric:
		return "numeric"
	case FieldString:
		return "string"
	default:
		return "other"
	}
}

type Field struct {
	Name string    `json:"name"`
	Kind FieldKind `json:"kind"`
}

// SamplePoint - одна точка промера глубины.
type SamplePoint struct {
	X            float64        `json:"x"`
	Y            float64        `json:"y"`
	Z            float64        `json:"z,omitempty"`
	HasZ         bool           `json:"has_z,omitempty"`
	GeometryType string         `json:"geometry_type"`
	Attributes   map[string]any `json:"attributes"`
}

// PointSample - набор точек промера с атрибутами.
type PointSample struct {
	CRS    string        `json:"crs"`
	Fields []Field       `json:"fields"`
	Points []SamplePoint `json:"points"`
}

func (s *PointSample) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Points)
}

// CheckPointGeometry отклоняет весь набор, если хотя бы одна геометрия не точка.
func (s *PointSample) CheckPointGeometry() error {
	for i, p := range s.Points {
		if p.GeometryType != GeometryPoint {
			return errors.Wrapf(ErrGeometryType, "feature %d is %s, not Point", i, p.GeometryType)
		}
	}
	return nil
}

// Clone возвращает глубокую копию набора.
func (s *PointSample) Clone() *PointSample {
	out := &PointSample{
		CRS:    s.CRS,
		Fields: append([]Field(nil), s.Fields...),
		Points: make([]SamplePoint, len(s.Points)),
	}
	for i, p := range s.Points {
		out.Points[i] = p.clone()
	}
	return out
}

// Subset возвращает копию набора только с точками из idx.
func (s *PointSample) Subset(idx []int) *PointSample {
	out := &PointSample{
		CRS:    s.CRS,
		Fields: append([]Field(nil), s.Fields...),
		Points: make([]SamplePoint, 0, len(idx)),
	}
	for _, i := range idx {
		out.Points = append(out.Points, s.Points[i].clone())
	}
	return out
}

func (p SamplePoint) clone() SamplePoint {
	attrs := make(map[string]any, len(p.Attributes))
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	p.Attributes = attrs
	return p
}

func (s *PointSample) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Float читает числовое значение атрибута. Поле "z" без атрибута берётся из геометрии.
func (s *PointSample) Float(i int, column string) (float64, error) {
	p := s.Points[i]
	v, ok := p.Attributes[column]
	if !ok {
		if strings.EqualFold(column, "z") && p.HasZ {
			return p.Z, nil
		}
		return 0, errors.Wrapf(ErrInvalidArgument, "column %q not found", column)
	}
	return ToFloat(v)
}

// ToFloat приводит значение атрибута к float64. nil даёт NaN.
func ToFloat(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return math.NaN(), nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidArgument, "value %q is not numeric", t)
		}
		return f, nil
	default:
		return 0, errors.Wrapf(ErrInvalidArgument, "value of type %T is not numeric", v)
	}
}

// HasDepthColumn сообщает, можно ли взять глубину из столбца column.
func (s *PointSample) HasDepthColumn(column string) bool {
	if _, ok := s.Field(column); ok {
		return true
	}
	if !strings.EqualFold(column, "z") {
		return false
	}
	for _, p := range s.Points {
		if !p.HasZ {
			return false
		}
	}
	return len(s.Points) > 0
}

// StringFields - столбцы, пригодные для разбиения по атрибуту.
func (s *PointSample) StringFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Kind == FieldString {
			out = append(out, f.Name)
		}
	}
	return out
}

// Groups возвращает отсортированные уникальные значения строкового столбца.
func (s *PointSample) Groups(header string) ([]string, error) {
	f, ok := s.Field(header)
	if !ok {
		return nil, errors.Wrapf(ErrMissingPrerequisite, "attribute header %q not found", header)
	}
	if f.Kind != FieldString {
		return nil, errors.Wrapf(ErrInvalidArgument, "attribute header %q is not a text field", header)
	}
	seen := make(map[string]struct{})
	for _, p := range s.Points {
		if v, ok := p.Attributes[header]; ok && v != nil {
			seen[fmt.Sprint(v)] = struct{}{}
		}
	}
	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups, nil
}

// InferFields выводит схему атрибутов по значениям: число, строка или прочее.
// Столбец числовой, только если все непустые значения числа.
func InferFields(points []SamplePoint) []Field {
	kinds := make(map[string]FieldKind)
	typed := make(map[string]bool)
	for _, p := range points {
		for name, v := range p.Attributes {
			k, ok := kindOf(v)
			if !ok {
				if _, seen := kinds[name]; !seen {
					kinds[name] = FieldOther
				}
				continue
			}
			switch {
			case !typed[name]:
				kinds[name], typed[name] = k, true
			case kinds[name] != k:
				kinds[name] = FieldOther
			}
		}
	}
	fields := make([]Field, 0, len(kinds))
	for name, k := range kinds {
		fields = append(fields, Field{Name: name, Kind: k})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}

func kindOf(v any) (FieldKind, bool) {
	switch v.(type) {
	case nil:
		return FieldOther, false
	case float64, float32, int, int32, int64:
		return FieldNumeric, true
	case string:
		return FieldString, true
	default:
		return FieldOther, true
	}
}
