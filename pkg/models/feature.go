package models

import (
	"bytes"
	"encoding/json"
)

// Feature describes a configurable capability of a connection.
type Feature struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	IconURL     string `json:"icon_url"`
}

// StepType identifies the role of a user feature step.
type StepType string

const (
	StepTrigger StepType = "trigger"
	StepQuery   StepType = "query"
	StepAction  StepType = "action"
)

// UserFeature is the user's configuration of a Feature.
type UserFeature struct {
	ID        string            `json:"id"`
	FeatureID string            `json:"feature_id"`
	Enabled   bool              `json:"enabled"`
	Triggers  []UserFeatureStep `json:"user_feature_triggers,omitempty"`
	Queries   []UserFeatureStep `json:"user_feature_queries,omitempty"`
	Actions   []UserFeatureStep `json:"user_feature_actions,omitempty"`
}

// Steps returns all steps in trigger, query, action order with their type set.
func (f UserFeature) Steps() []UserFeatureStep {
	steps := make([]UserFeatureStep, 0, len(f.Triggers)+len(f.Queries)+len(f.Actions))
	for _, group := range []struct {
		kind  StepType
		items []UserFeatureStep
	}{
		{StepTrigger, f.Triggers},
		{StepQuery, f.Queries},
		{StepAction, f.Actions},
	} {
		for _, step := range group.items {
			step.Type = group.kind
			steps = append(steps, step)
		}
	}
	return steps
}

// UserFeatureStep is one trigger, query or action inside a user feature.
type UserFeatureStep struct {
	Type   StepType           `json:"-"`
	ID     string             `json:"id"`
	StepID string             `json:"step_id"`
	Fields []UserFeatureField `json:"user_fields"`
}

// FieldType is the declared type of a user feature field.
type FieldType string

const (
	FieldLocationEnter          FieldType = "LOCATION_ENTER"
	FieldLocationExit           FieldType = "LOCATION_EXIT"
	FieldLocationEnterOrExit    FieldType = "LOCATION_ENTER_OR_EXIT"
	FieldLocationPoint          FieldType = "LOCATION_POINT"
	FieldLocationRadius         FieldType = "LOCATION_RADIUS"
	FieldTextField              FieldType = "TEXT_FIELD"
	FieldTextArea               FieldType = "TEXT_AREA"
	FieldCheckboxes             FieldType = "CHECKBOXES"
	FieldCollectionSelect       FieldType = "COLLECTION_SELECT"
	FieldDoubleCollectionSelect FieldType = "DOUBLE_COLLECTION_SELECT"
)

// IsLocation reports whether the field type carries a LocationFieldValue.
func (t FieldType) IsLocation() bool {
	switch t {
	case FieldLocationEnter, FieldLocationExit, FieldLocationEnterOrExit, FieldLocationPoint, FieldLocationRadius:
		return true
	}
	return false
}

// IsGeofence reports whether the field type describes a monitored region.
func (t FieldType) IsGeofence() bool {
	switch t {
	case FieldLocationEnter, FieldLocationExit, FieldLocationEnterOrExit:
		return true
	}
	return false
}

// UserFeatureField is a single user-supplied field value. Value is nil when the
// payload did not match the declared FieldType; such fields must be skipped.
type UserFeatureField struct {
	FieldID   string     `json:"field_id"`
	FieldType FieldType  `json:"field_type"`
	Value     FieldValue `json:"value"`
}

// UnmarshalJSON decodes the value according to the declared field type.
func (f *UserFeatureField) UnmarshalJSON(data []byte) error {
	var raw struct {
		FieldID   string          `json:"field_id"`
		FieldType FieldType       `json:"field_type"`
		Value     json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.FieldID = raw.FieldID
	f.FieldType = raw.FieldType
	f.Value = decodeFieldValue(raw.FieldType, raw.Value)
	return nil
}

func decodeFieldValue(fieldType FieldType, raw json.RawMessage) FieldValue {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	switch {
	case fieldType.IsLocation():
		var v LocationFieldValue
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil
		}
		return v
	case fieldType == FieldTextField || fieldType == FieldTextArea:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil
		}
		return StringFieldValue(v)
	case fieldType == FieldCheckboxes:
		var v []CheckboxOption
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil
		}
		return CheckboxFieldValue(v)
	case fieldType == FieldCollectionSelect || fieldType == FieldDoubleCollectionSelect:
		var v CollectionFieldValue
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil
		}
		return v
	default:
		var arr []string
		if err := json.Unmarshal(raw, &arr); err == nil {
			return StringArrayFieldValue(arr)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return StringFieldValue(s)
		}
		return nil
	}
}

func strictUnmarshal(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
