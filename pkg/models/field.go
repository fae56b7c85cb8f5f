package models

// FieldValue is the closed set of user field payloads. Use a type switch over
// the concrete types below; no other implementations exist.
type FieldValue interface {
	fieldValue()
}

// LocationFieldValue is a geographic region.
type LocationFieldValue struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Radius      float64 `json:"radius"`
	Address     string  `json:"address,omitempty"`
	Description string  `json:"description,omitempty"`
	Zone        string  `json:"zone,omitempty"`
}

// StringFieldValue is free text.
type StringFieldValue string

// StringArrayFieldValue is a list of strings.
type StringArrayFieldValue []string

// CheckboxOption is one selected checkbox.
type CheckboxOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// CheckboxFieldValue is the set of selected checkboxes.
type CheckboxFieldValue []CheckboxOption

// CollectionFieldValue is a selected collection entry.
type CollectionFieldValue struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Group string `json:"group,omitempty"`
}

func (LocationFieldValue) fieldValue()    {}
func (StringFieldValue) fieldValue()      {}
func (StringArrayFieldValue) fieldValue() {}
func (CheckboxFieldValue) fieldValue()    {}
func (CollectionFieldValue) fieldValue()  {}

// LocationValue returns the field's location when both the declared type and
// the decoded value are locations.
func (f UserFeatureField) LocationValue() (LocationFieldValue, bool) {
	if !f.FieldType.IsLocation() {
		return LocationFieldValue{}, false
	}
	v, ok := f.Value.(LocationFieldValue)
	return v, ok
}
