package models

// Diagnostic event tags written to the log table.
const (
	LogEventLastUpload        = "LAST_UPLOAD"
	LogEventUploadFailed      = "UPLOAD_FAILED"
	LogEventZipBusy           = "ZIP_BUSY"
	LogEventZipFailed         = "ZIP_FAILED"
	LogEventDuplicateFile     = "DUPLICATE_FILE"
	LogEventOcrProcess        = "OCRProcess"
	LogEventProjectionInvalid = "PROJECTION_INVALID"
	LogEventLowStorage        = "LOW_STORAGE"
	LogEventCaptureRestart    = "CAPTURE_RESTART"
	LogEventIsRecording       = "IS_RECORDING"
	LogEventIsConnected       = "IS_CONNECTED"
	LogEventIsPowered         = "IS_POWERED"
	LogEventOcrNot            = "OCR_NOT"
	LogEventOcrDone           = "OCR_DONE"
	LogEventLoggedOut         = "LOGGED_OUT"
	LogEventMCPTool           = "MCP_TOOL"
	LogEventMCPToolError      = "MCP_TOOL_ERROR"
)

// LogTimestampLayout is the layout of LogEvent.Timestamp.
const LogTimestampLayout = "2006-01-02 15:04:05"

// LogEvent is a diagnostic record that is flushed to CSV and uploaded.
type LogEvent struct {
	ID        int64  `json:"id"`
	Event     string `json:"event"`
	Msg       string `json:"msg"`
	User      string `json:"user"`
	Timestamp string `json:"timestamp"`
}
