package models

// NoNeighborApp fills neighbor slots that fall outside the session.
const NoNeighborApp = "NA"

// AppSegment is a maximal run of consecutive screenshots in one session that
// share the same foreground app.
type AppSegment struct {
	ID                 int64  `json:"id"`
	AppSegmentID       string `json:"app_segment_id"`
	SessionID          string `json:"session_id"`
	AppTitle           string `json:"app_title"`
	AppSegmentStart    int64  `json:"app_segment_start"`
	AppSegmentEnd      int64  `json:"app_segment_end"`
	AppSegmentDuration int64  `json:"app_segment_duration"`
	UserID             string `json:"user_id"`
	AppPrev1           string `json:"app_prev_1"`
	AppPrev2           string `json:"app_prev_2"`
	AppPrev3           string `json:"app_prev_3"`
	AppPrev4           string `json:"app_prev_4"`
	AppNext1           string `json:"app_next_1"`
}
