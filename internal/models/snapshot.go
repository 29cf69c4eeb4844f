package models

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"den/internal/ingesterr"
)

// Key paths of the entity collections inside a snapshot document
var (
	StructuresPath  = []string{"data", "structures"}
	ThermostatsPath = []string{"data", "devices", "thermostats"}
)

// Entity is the current state of one structure or device
type Entity struct {
	ID         string
	Attributes map[string]any
}

// Snapshot is the typed view of one pushed state document. Missing or
// malformed sub-trees decode to empty entity lists.
type Snapshot struct {
	Structures  []Entity
	Thermostats []Entity
}

// DecodeSnapshot extracts the structure and thermostat collections from raw.
// It never fails: shape problems are logged and yield no entities of that
// kind.
func DecodeSnapshot(raw json.RawMessage, logger *slog.Logger) Snapshot {
	return Snapshot{
		Structures:  DecodeEntities(raw, StructuresPath, logger),
		Thermostats: DecodeEntities(raw, ThermostatsPath, logger),
	}
}

// DecodeEntities walks path in raw and returns the keyed objects found
// there, sorted by ID
func DecodeEntities(raw json.RawMessage, path []string, logger *slog.Logger) []Entity {
	where := strings.Join(path, ".")
	node := raw

	for i, key := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(node, &obj); err != nil || obj == nil {
			op := "snapshot"
			if i > 0 {
				op = strings.Join(path[:i], ".")
			}
			logger.Error("Invalid data",
				"path", where,
				"error", ingesterr.Shape(op, shapeErr(err, "not an object")))
			return nil
		}
		next, ok := obj[key]
		if !ok {
			logger.Warn("No entities found in data", "path", where)
			return nil
		}
		node = next
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(node, &members); err != nil {
		logger.Error("Invalid data", "path", where, "error", ingesterr.Shape(where, err))
		return nil
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entities := make([]Entity, 0, len(ids))
	for _, id := range ids {
		var attrs map[string]any
		if err := json.Unmarshal(members[id], &attrs); err != nil || attrs == nil {
			logger.Error("Invalid entity",
				"path", where,
				"id", id,
				"error", ingesterr.Shape(where+"."+id, shapeErr(err, "not an object")))
			continue
		}
		entities = append(entities, Entity{ID: id, Attributes: attrs})
	}
	return entities
}

func shapeErr(err error, fallback string) error {
	if err != nil {
		return err
	}
	return errors.New(fallback)
}
