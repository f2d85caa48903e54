// Package models contains shared data models used across the dialq codebase.
package models

// Lead is a contact snapshot taken when a batch is enqueued. Later edits to
// the lead in the CRM never reach a job that already holds the snapshot.
type Lead struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name,omitempty"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	Address    string `json:"address,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// FullName joins first and last name, skipping an empty last name.
func (l Lead) FullName() string {
	if l.LastName == "" {
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}
