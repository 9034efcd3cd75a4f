package models

// ScreenshotTypeCapture is the type recorded for every capture tick.
const ScreenshotTypeCapture = "SCREENSHOT"

// RestrictedPlaceholderText is stored as the text of a restricted-app placeholder.
const RestrictedPlaceholderText = "Restricted"

// Screenshot is one capture tick: either a JPEG on local storage or a
// placeholder for an app the user restricted. Restricted placeholders never
// carry a file.
type Screenshot struct {
	ID                      int64   `json:"id"`
	User                    string  `json:"user"`
	FilePath                string  `json:"file_path"`
	FileName                string  `json:"file_name"`
	CurrentAppInUse         string  `json:"current_app_in_use"`
	CurrentAppRealNameInUse string  `json:"current_app_real_name_in_use"`
	SessionID               *string `json:"session_id,omitempty"`
	AppSegmentID            *string `json:"app_segment_id,omitempty"`
	EpochTimestamp          int64   `json:"epoch_timestamp"`
	Timestamp               string  `json:"timestamp"`
	LocalTimestamp          string  `json:"local_timestamp"`
	Type                    string  `json:"type"`
	Text                    *string `json:"text,omitempty"`
	IsOcrComplete           bool    `json:"is_ocr_complete"`
	IsAppRestricted         bool    `json:"is_app_restricted"`
	ZipFileID               *string `json:"zip_file_id,omitempty"`
	SessionDepth            *int64  `json:"session_depth,omitempty"`
}

// HasImage reports whether the record references an image file.
func (s *Screenshot) HasImage() bool {
	return !s.IsAppRestricted && s.FileName != "" && s.FilePath != ""
}

// AppCount is a per-app screenshot tally.
type AppCount struct {
	AppPackage string `json:"app_package"`
	Count      int    `json:"count"`
}

// ScreenshotCounts aggregates the store's screenshot counters.
type ScreenshotCounts struct {
	Total                   int `json:"total"`
	OcrComplete             int `json:"ocr_complete"`
	OcrCompleteOrRestricted int `json:"ocr_complete_or_restricted"`
	Restricted              int `json:"restricted"`
	Unrestricted            int `json:"unrestricted"`
	NullSegment             int `json:"null_segment"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
