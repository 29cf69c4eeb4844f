// Package transform turns decoded snapshots into measurement points using
// the static tag/field classification tables in schema.go.
package transform

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"den/internal/models"
)

// Transformer builds points from snapshot entities
type Transformer struct {
	logger *slog.Logger
}

// NewTransformer creates a transformer that logs dropped keys to logger
func NewTransformer(logger *slog.Logger) *Transformer {
	return &Transformer{logger: logger}
}

// StructurePoints returns one structure point per structure in snap
func (t *Transformer) StructurePoints(snap models.Snapshot, ts time.Time) []models.Point {
	return t.Points(StructureSchema, snap.Structures, ts)
}

// ThermostatPoints returns one thermostat point per thermostat in snap
func (t *Transformer) ThermostatPoints(snap models.Snapshot, ts time.Time) []models.Point {
	return t.Points(ThermostatSchema, snap.Thermostats, ts)
}

// Points classifies every entity against schema. An empty entity list
// yields an empty point list.
func (t *Transformer) Points(schema Schema, entities []models.Entity, ts time.Time) []models.Point {
	points := make([]models.Point, 0, len(entities))
	for _, entity := range entities {
		points = append(points, t.BuildPoint(schema, entity, ts))
	}
	return points
}

// BuildPoint classifies the attributes of one entity. Keys in neither
// table are logged and dropped; the point is returned even when it ends up
// with no fields.
func (t *Transformer) BuildPoint(schema Schema, entity models.Entity, ts time.Time) models.Point {
	point := models.NewPoint(schema.Measurement, ts)

	attrs := make(map[string]any, len(entity.Attributes))
	for k, v := range entity.Attributes {
		attrs[k] = v
	}
	for _, k := range schema.Strip {
		delete(attrs, k)
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := attrs[k]
		isTag, isField := schema.TagKeys[k], schema.FieldKeys[k]

		if !isTag && !isField {
			t.logger.Warn("Unknown property",
				"measurement", schema.Measurement,
				"id", entity.ID,
				"key", k,
				"value", v)
			continue
		}

		if isTag {
			if s, ok := tagValue(v); ok {
				point.Tags[k] = s
			} else {
				t.logger.Warn("Dropping non-scalar tag",
					"measurement", schema.Measurement,
					"id", entity.ID,
					"key", k)
			}
		}

		if isField {
			t.addField(schema, entity.ID, &point, k, v)
		}
	}

	if schema.IDTag != "" && entity.ID != "" {
		if _, ok := point.Tags[schema.IDTag]; !ok {
			point.Tags[schema.IDTag] = entity.ID
		}
	}

	return point
}

func (t *Transformer) addField(schema Schema, id string, point *models.Point, key string, value any) {
	if schema.Derive != nil {
		if name, f, ok := schema.Derive(key, value); ok {
			point.Fields[name] = f
			return
		}
	}

	f, ok := fieldValue(value)
	if !ok {
		t.logger.Warn("Dropping non-numeric field",
			"measurement", schema.Measurement,
			"id", id,
			"key", key,
			"value", value)
		return
	}
	point.Fields[key] = f
}

// tagValue renders a scalar JSON value as a tag string
func tagValue(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case json.Number:
		return val.String(), true
	default:
		return "", false
	}
}

// fieldValue coerces a JSON value to a float field
func fieldValue(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
