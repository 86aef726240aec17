package models

// Change describes one field rewritten by a normalization pass
type Change struct {
	Index    int      `json:"index"`
	RecordID string   `json:"id"`
	Field    string   `json:"field"`
	Before   string   `json:"before"`
	After    string   `json:"after"`
	Rules    []RuleID `json:"rules,omitempty"`
}
