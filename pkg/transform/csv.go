package transform

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// NullValue is written for absent optional fields.
const NullValue = "null"

// Derived time column layouts.
const (
	WeekdayLayout = "Mon"
	SecondLayout  = "15:04:05"
	DayLayout     = "01/02/2006"
)

// Column headers of the uploaded CSV files.
var (
	ScreenshotHeaders = []string{
		"id_user", "file", "zipFileId", "apk", "id_session", "id_segment", "app", "text",
		"weekday", "t_epoch_ts_ms", "t_natural_utc_ts", "t_natural_second_ts", "t_natural_day_ts",
	}
	SessionHeaders = []string{
		"id_user", "session_start", "session_end", "id_session", "seconds_since_last_active_ms",
		"session_duration_ms", "session_count_per_day", "interval", "id_panel", "id_tenant",
		"t_natural_second_session_start", "t_natural_day_session_start",
		"t_natural_second_session_end", "t_natural_day_session_end",
	}
	AppSegmentHeaders = []string{
		"apk", "t_unix_ts_segment_start", "duration_segment_ms", "id_session", "id_segment",
		"apk_prev_1", "apk_prev_2", "apk_prev_3", "apk_prev_4", "apk_next_1", "id_user",
	}
	AccessibilityHeaders = []string{
		"id_user", "type", "t_unix_ts_ms", "apk", "id_session", "id_interval", "text",
	}
	LogHeaders = []string{"event", "msg", "user", "timestamp"}
)

// ScreenshotCSV renders screenshot rows. Derived time columns use loc.
func ScreenshotCSV(rows []*models.Screenshot, loc *time.Location) []byte {
	return render(ScreenshotHeaders, rows, func(s *models.Screenshot) []string {
		t := epochIn(s.EpochTimestamp, loc)
		return []string{
			s.User,
			s.FilePath,
			optional(s.ZipFileID),
			s.CurrentAppInUse,
			optional(s.SessionID),
			optional(s.AppSegmentID),
			s.CurrentAppRealNameInUse,
			optional(s.Text),
			t.Format(WeekdayLayout),
			strconv.FormatInt(s.EpochTimestamp, 10),
			s.Timestamp,
			t.Format(SecondLayout),
			t.Format(DayLayout),
		}
	})
}

// SessionCSV renders session rows. Derived time columns use loc.
func SessionCSV(rows []*models.Session, loc *time.Location) []byte {
	return render(SessionHeaders, rows, func(s *models.Session) []string {
		start := epochIn(s.SessionStartEpoch, loc)
		end := epochIn(s.SessionEndEpoch, loc)
		return []string{
			s.User,
			s.SessionStart,
			s.SessionEnd,
			s.SessionID,
			strconv.FormatInt(s.SecondsSinceLastActive, 10),
			strconv.FormatInt(s.SessionDuration, 10),
			strconv.Itoa(s.SessionCountPerDay),
			strconv.FormatFloat(s.FPS, 'f', -1, 64),
			s.PanelID,
			s.TenantID,
			start.Format(SecondLayout),
			start.Format(DayLayout),
			end.Format(SecondLayout),
			end.Format(DayLayout),
		}
	})
}

// AppSegmentCSV renders app segment rows.
func AppSegmentCSV(rows []*models.AppSegment) []byte {
	return render(AppSegmentHeaders, rows, func(s *models.AppSegment) []string {
		return []string{
			s.AppTitle,
			strconv.FormatInt(s.AppSegmentStart, 10),
			strconv.FormatInt(s.AppSegmentDuration, 10),
			s.SessionID,
			s.AppSegmentID,
			s.AppPrev1,
			s.AppPrev2,
			s.AppPrev3,
			s.AppPrev4,
			s.AppNext1,
			s.UserID,
		}
	})
}

// AccessibilityCSV renders accessibility event rows.
func AccessibilityCSV(rows []*models.AccessibilityEvent) []byte {
	return render(AccessibilityHeaders, rows, func(e *models.AccessibilityEvent) []string {
		return []string{
			e.User,
			e.EventType,
			strconv.FormatInt(e.EventTime, 10),
			e.PackageName,
			optional(e.SessionID),
			e.AppIntervalID,
			e.Text,
		}
	})
}

// LogCSV renders diagnostic log rows.
func LogCSV(rows []*models.LogEvent) []byte {
	return render(LogHeaders, rows, func(e *models.LogEvent) []string {
		return []string{e.Event, e.Msg, e.User, e.Timestamp}
	})
}

// ParseCSV reads a file written by the renderers above and returns its header
// and data rows. Empty input yields no header and no rows.
func ParseCSV(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	return records[0], records[1:], nil
}

// render writes a header line and one line per row, quoting every field.
func render[T any](headers []string, rows []T, fields func(T) []string) []byte {
	var buf bytes.Buffer
	writeLine(&buf, headers)
	for _, row := range rows {
		writeLine(&buf, fields(row))
	}
	return buf.Bytes()
}

func writeLine(buf *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(f, `"`, `""`))
		buf.WriteByte('"')
	}
	buf.WriteByte('\n')
}

func optional(s *string) string {
	if s == nil {
		return NullValue
	}
	return *s
}

func epochIn(ms int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ms).In(loc)
}
