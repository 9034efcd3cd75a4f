package models

// AccessibilityEvent is a platform accessibility callback captured by the
// device bridge. SessionID is rewritten during correlation to the screenshot
// session that contains the event's accessibility session.
type AccessibilityEvent struct {
	ID                     int64   `json:"id"`
	User                   string  `json:"user"`
	EventGroupID           string  `json:"event_group_id"`
	SessionID              *string `json:"session_id,omitempty"`
	AccessibilitySessionID string  `json:"accessibility_session_id"`
	AppIntervalID          string  `json:"app_interval_id"`
	EventType              string  `json:"event_type"`
	EventTime              int64   `json:"event_time"`
	PackageName            string  `json:"package_name"`
	ClassName              string  `json:"class_name"`
	Text                   string  `json:"text"`
	ContentDescription     string  `json:"content_description"`
}
