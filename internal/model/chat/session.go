package chat

// Session identifies the logical conversation an active chat view is bound to.
type Session struct {
	UserID      string `json:"userId"`
	CompanionID string `json:"companionId"`
}

// Complete reports whether both identifiers needed to open a socket are set.
func (s Session) Complete() bool {
	return s.UserID != "" && s.CompanionID != ""
}
