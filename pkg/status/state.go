package status

import (
	"time"
)

// State is the set of signals shared by the capture loop, the pipeline passes
// and the control surfaces. Each signal has a single writer.
type State struct {
	// Written by the capture loop.
	IsRecording       Value[bool]
	ProjectionInvalid Value[bool]
	CaptureInterval   Value[time.Duration]
	CaptureRestarts   Value[int]
	LowStorage        Value[bool]

	// Written by the device bridge.
	ScreenLocked Value[bool]

	// Written by the pipeline passes.
	OcrBacklog           Value[int]
	LastOcrPass          Value[time.Time]
	LastZipPass          Value[time.Time]
	NotUploadedCount     Value[int]
	LastUploadSuccessful Value[bool]
	LastUploadTime       Value[time.Time]

	// Written by the control surfaces.
	Maintenance Value[bool]
}

// NewState returns a state with the screen locked and no capture running.
func NewState() *State {
	s := &State{}
	s.ScreenLocked.Set(true)
	return s
}

// Snapshot is a point-in-time copy of State for serialization.
type Snapshot struct {
	IsRecording          bool       `json:"is_recording"`
	ProjectionInvalid    bool       `json:"projection_invalid"`
	CaptureIntervalMs    int64      `json:"capture_interval_ms"`
	CaptureRestarts      int        `json:"capture_restarts"`
	LowStorage           bool       `json:"low_storage"`
	ScreenLocked         bool       `json:"screen_locked"`
	OcrBacklog           int        `json:"ocr_backlog"`
	LastOcrPass          *time.Time `json:"last_ocr_pass,omitempty"`
	LastZipPass          *time.Time `json:"last_zip_pass,omitempty"`
	NotUploadedCount     int        `json:"not_uploaded_count"`
	LastUploadSuccessful bool       `json:"last_upload_successful"`
	LastUploadTime       *time.Time `json:"last_upload_time,omitempty"`
	Maintenance          bool       `json:"maintenance"`
}

// Snapshot copies every signal.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		IsRecording:          s.IsRecording.Get(),
		ProjectionInvalid:    s.ProjectionInvalid.Get(),
		CaptureIntervalMs:    s.CaptureInterval.Get().Milliseconds(),
		CaptureRestarts:      s.CaptureRestarts.Get(),
		LowStorage:           s.LowStorage.Get(),
		ScreenLocked:         s.ScreenLocked.Get(),
		OcrBacklog:           s.OcrBacklog.Get(),
		LastOcrPass:          timePtr(s.LastOcrPass.Get()),
		LastZipPass:          timePtr(s.LastZipPass.Get()),
		NotUploadedCount:     s.NotUploadedCount.Get(),
		LastUploadSuccessful: s.LastUploadSuccessful.Get(),
		LastUploadTime:       timePtr(s.LastUploadTime.Get()),
		Maintenance:          s.Maintenance.Get(),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
