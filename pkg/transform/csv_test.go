package transform

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// 2026-10-19 13:04:05.250 UTC, a Monday.
const mondayEpoch int64 = 1792415045250

func TestScreenshotCSV_Format(t *testing.T) {
	rows := []*models.Screenshot{{
		User:                    "owner@example.com",
		FilePath:                "/data/img.jpg",
		ZipFileID:               models.StringPtr("image_zip_abc_1.zip"),
		CurrentAppInUse:         "com.example.mail",
		SessionID:               models.StringPtr("sess-1"),
		CurrentAppRealNameInUse: "Mail",
		Text:                    nil,
		EpochTimestamp:          mondayEpoch,
		Timestamp:               "2026-10-19T13:04:05.250Z",
	}}

	out := string(ScreenshotCSV(rows, time.UTC))
	lines := strings.Split(out, "\n")

	require.Len(t, lines, 3, "header, one row, trailing newline")
	assert.Equal(t, `"id_user","file","zipFileId","apk","id_session","id_segment","app","text","weekday","t_epoch_ts_ms","t_natural_utc_ts","t_natural_second_ts","t_natural_day_ts"`, lines[0])
	assert.Equal(t, `"owner@example.com","/data/img.jpg","image_zip_abc_1.zip","com.example.mail","sess-1","null","Mail","null","Mon","1792415045250","2026-10-19T13:04:05.250Z","13:04:05","10/19/2026"`, lines[1])
	assert.Empty(t, lines[2])
}

func TestScreenshotCSV_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-14", -14*60*60)
	out := string(ScreenshotCSV([]*models.Screenshot{{EpochTimestamp: mondayEpoch}}, loc))

	assert.Contains(t, out, `"Sun"`)
	assert.Contains(t, out, `"23:04:05","10/18/2026"`)
}

func TestSessionCSV_Format(t *testing.T) {
	rows := []*models.Session{{
		User:                   "owner@example.com",
		SessionStart:           "2026-10-19T13:04:05.250Z",
		SessionEnd:             "2026-10-19T13:05:05.250Z",
		SessionID:              "sess-1",
		SessionStartEpoch:      mondayEpoch,
		SessionEndEpoch:        mondayEpoch + 60000,
		SecondsSinceLastActive: 1200,
		SessionDuration:        60000,
		SessionCountPerDay:     3,
		FPS:                    0.33,
		PanelID:                "p1",
		TenantID:               "t1",
	}}

	header, data, err := ParseCSV(bytes.NewReader(SessionCSV(rows, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, SessionHeaders, header)
	require.Len(t, data, 1)
	assert.Equal(t, []string{
		"owner@example.com", "2026-10-19T13:04:05.250Z", "2026-10-19T13:05:05.250Z", "sess-1",
		"1200", "60000", "3", "0.33", "p1", "t1", "13:04:05", "10/19/2026", "13:05:05", "10/19/2026",
	}, data[0])
}

func TestCSV_RoundTrip(t *testing.T) {
	segments := []*models.AppSegment{
		{AppTitle: "mail", AppSegmentStart: 10, AppSegmentDuration: 3000, SessionID: "s", AppSegmentID: "g1",
			AppPrev1: "NA", AppPrev2: "NA", AppPrev3: "NA", AppPrev4: "NA", AppNext1: "chat", UserID: "u"},
		{AppTitle: `odd "quoted", app`, AppSegmentStart: 20, AppSegmentDuration: 4000, SessionID: "s", AppSegmentID: "g2",
			AppPrev1: "mail", AppPrev2: "NA", AppPrev3: "NA", AppPrev4: "NA", AppNext1: "NA", UserID: "u"},
	}

	header, data, err := ParseCSV(bytes.NewReader(AppSegmentCSV(segments)))
	require.NoError(t, err)
	assert.Equal(t, AppSegmentHeaders, header)
	require.Len(t, data, 2)
	for i, row := range data {
		assert.Len(t, row, len(AppSegmentHeaders))
		assert.Equal(t, segments[i].AppTitle, row[0])
		assert.Equal(t, segments[i].AppSegmentID, row[4])
		assert.Equal(t, segments[i].AppNext1, row[9])
	}
}

func TestAccessibilityCSV(t *testing.T) {
	events := []*models.AccessibilityEvent{
		{User: "u", EventType: "TYPE_VIEW_CLICKED", EventTime: 42, PackageName: "mail", AppIntervalID: "i1", Text: "Send"},
		{User: "u", EventType: "TYPE_VIEW_SCROLLED", EventTime: 43, PackageName: "mail", SessionID: models.StringPtr("s1")},
	}

	header, data, err := ParseCSV(bytes.NewReader(AccessibilityCSV(events)))
	require.NoError(t, err)
	assert.Equal(t, AccessibilityHeaders, header)
	assert.Equal(t, []string{"u", "TYPE_VIEW_CLICKED", "42", "mail", "null", "i1", "Send"}, data[0])
	assert.Equal(t, "s1", data[1][4])
}

func TestLogCSV(t *testing.T) {
	out := string(LogCSV([]*models.LogEvent{{Event: models.LogEventLastUpload, Msg: "ok", User: "u", Timestamp: "2026-10-18 09:00:00"}}))
	assert.Equal(t, "\"event\",\"msg\",\"user\",\"timestamp\"\n\"LAST_UPLOAD\",\"ok\",\"u\",\"2026-10-18 09:00:00\"\n", out)
}

func TestWriteLine_QuotesEveryField(t *testing.T) {
	var buf bytes.Buffer
	writeLine(&buf, []string{"", NullValue, "com.mail", `say "hi", then`, "two\nlines"})
	assert.Equal(t, "\"\",\"null\",\"com.mail\",\"say \"\"hi\"\", then\",\"two\nlines\"\n", buf.String())

	_, data, err := ParseCSV(strings.NewReader("\"h1\",\"h2\",\"h3\",\"h4\",\"h5\"\n" + buf.String()))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"", NullValue, "com.mail", `say "hi", then`, "two\nlines"}}, data)
}

func TestCSV_EmptyRowsStillHaveHeader(t *testing.T) {
	header, data, err := ParseCSV(bytes.NewReader(ScreenshotCSV(nil, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, ScreenshotHeaders, header)
	assert.Empty(t, data)

	header, data, err = ParseCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, header)
	assert.Nil(t, data)
}
