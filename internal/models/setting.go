package models

// Setting is a key-value pair in the settings collection. Sensitive
// values are stored encrypted.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TableName returns the collection name for Setting.
func (Setting) TableName() string {
	return CollectionSettings
}
