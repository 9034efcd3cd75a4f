package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestParsePackageName(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name       string
		pathValue  string
		want       string
		wantOK     bool
		wantStatus int
	}{
		{name: "valid package", pathValue: "com.example.app", want: "com.example.app", wantOK: true},
		{name: "underscores and digits", pathValue: "org.app_2.x9", want: "org.app_2.x9", wantOK: true},
		{name: "single segment", pathValue: "example", wantStatus: http.StatusBadRequest},
		{name: "leading digit", pathValue: "1com.example", wantStatus: http.StatusBadRequest},
		{name: "empty", pathValue: "", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodDelete, "/test", nil)
			req.SetPathValue("package", tt.pathValue)
			rec := httptest.NewRecorder()

			got, ok := ParsePackageName(rec, req, logger)

			if ok != tt.wantOK {
				t.Fatalf("ParsePackageName() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParsePackageName() = %q, want %q", got, tt.want)
			}
			if tt.wantOK {
				return
			}

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["error"] != "invalid_package" {
				t.Errorf("error = %v, want invalid_package", resp["error"])
			}
		})
	}
}
