package transform

import "strings"

// Measurement names
const (
	StructureMeasurement  = "structure"
	ThermostatMeasurement = "thermostat"
)

// Schema is the static classification table of one measurement
type Schema struct {
	Measurement string

	// IDTag is filled from the entity's key when the entity omits it
	IDTag     string
	TagKeys   map[string]bool
	FieldKeys map[string]bool

	// Strip lists nested collections removed before classification
	Strip []string

	// Derive, when set, replaces the default numeric coercion for a field
	// key. It returns the field name and value to store.
	Derive func(key string, value any) (string, float64, bool)
}

func keySet(keys ...string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}

// StructureSchema classifies structure entities
var StructureSchema = Schema{
	Measurement: StructureMeasurement,
	IDTag:       "structure_id",
	TagKeys: keySet(
		"away", "country_code", "name", "postal_code", "structure_id", "thermostat_id", "time_zone",
	),
	FieldKeys: keySet("away"),
	Strip:     []string{"thermostats", "smoke_co_alarms", "cameras", "wheres"},
	Derive:    deriveAway,
}

// ThermostatSchema classifies thermostat entities
var ThermostatSchema = Schema{
	Measurement: ThermostatMeasurement,
	IDTag:       "device_id",
	TagKeys: keySet(
		"can_cool", "can_heat", "device_id", "fan_timer_active", "has_fan", "has_leaf", "hvac_mode",
		"hvac_state", "is_locked", "is_online", "is_using_emergency_heat", "label", "locale", "name",
		"name_long", "previous_hvac_mode", "software_version", "structure_id",
		"sunlight_correction_active", "sunlight_correction_enabled", "temperature_scale",
		"time_to_target", "time_to_target_training", "where_id", "where_name",
	),
	FieldKeys: keySet(
		"ambient_temperature_c", "ambient_temperature_f", "away_temperature_high_c",
		"away_temperature_high_f", "away_temperature_low_c", "away_temperature_low_f",
		"eco_temperature_high_c", "eco_temperature_high_f", "eco_temperature_low_c",
		"eco_temperature_low_f", "fan_timer_duration", "humidity", "locked_temp_max_c",
		"locked_temp_max_f", "locked_temp_min_c", "locked_temp_min_f", "target_temperature_c",
		"target_temperature_f", "target_temperature_high_c", "target_temperature_high_f",
		"target_temperature_low_c", "target_temperature_low_f",
	),
}

// deriveAway maps the structure "away" state to is_away: 1 for away and
// auto-away, 0 for home
func deriveAway(key string, value any) (string, float64, bool) {
	if key != "away" {
		return "", 0, false
	}
	state, ok := value.(string)
	if !ok {
		return "", 0, false
	}
	if strings.Contains(state, "away") {
		return "is_away", 1, true
	}
	return "is_away", 0, true
}
