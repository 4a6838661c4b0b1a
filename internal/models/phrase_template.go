package models

// PhraseTemplate represents a reusable negotiation phrase in a given
// language. Templates never expire; they are replaced only by an explicit
// write for the same ID.
type PhraseTemplate struct {
	ID       UUID   `db:"id" json:"id"`
	Language string `db:"language" json:"language"`
	Category string `db:"category" json:"category"` // greeting, offer, counter_offer, closing
	Text     string `db:"text" json:"text"`
}

// TableName returns the table name for PhraseTemplate.
func (PhraseTemplate) TableName() string {
	return "phrase_templates"
}
