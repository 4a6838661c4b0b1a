package models

// UserSettings represents per-user client preferences, keyed by user ID.
// Settings never expire; they change only through explicit write or patch.
type UserSettings struct {
	UserID            string  `db:"user_id" json:"user_id"`
	PreferredLanguage string  `db:"preferred_language" json:"preferred_language"`
	VoiceSpeed        float64 `db:"voice_speed" json:"voice_speed"`
	TextOnly          bool    `db:"text_only" json:"text_only"`
	AutoSync          bool    `db:"auto_sync" json:"auto_sync"`
	UpdatedAt         int64   `db:"updated_at" json:"updated_at"` // UnixNano
}

// TableName returns the table name for UserSettings.
func (UserSettings) TableName() string {
	return "user_settings"
}

// UserSettingsPatch is a partial update; nil fields are left untouched.
type UserSettingsPatch struct {
	PreferredLanguage *string  `json:"preferred_language,omitempty"`
	VoiceSpeed        *float64 `json:"voice_speed,omitempty"`
	TextOnly          *bool    `json:"text_only,omitempty"`
	AutoSync          *bool    `json:"auto_sync,omitempty"`
}
