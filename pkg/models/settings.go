package models

// Settings are the user's capture and upload preferences.
type Settings struct {
	FPS             float64 `json:"fps"`
	LimitDataUsage  bool    `json:"limit_data_usage"`
	LimitPowerUsage bool    `json:"limit_power_usage"`
}

// UploadStats is the upload feedback shown to the user.
type UploadStats struct {
	TotalUploaded int    `json:"total_uploaded"`
	TodayUploads  int    `json:"today_uploads"`
	Day           string `json:"day"`
}
