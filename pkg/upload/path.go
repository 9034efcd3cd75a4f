// Package upload moves finished archives and log CSVs to remote object
// storage through signed destinations handed out by a broker.
package upload

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// PathOptions are the deployment settings that shape remote paths.
type PathOptions struct {
	TestMode     bool
	BuildVersion string
	// NewID mints names for CSV uploads. Defaults to uuid.NewString.
	NewID func() string
}

// IsCSV reports whether the local file is a log CSV rather than an archive.
func IsCSV(localPath string) bool {
	return strings.EqualFold(filepath.Ext(localPath), ".csv")
}

// BuildUploadPath returns the object key for a local file. Owners who opted
// into image upload go under the academia prefix; CSVs get a fresh name and
// archives keep theirs.
func BuildUploadPath(localPath string, user *models.User, opts PathOptions) string {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if user == nil {
		user = models.NewDefaultUser()
	}

	var b strings.Builder
	if opts.TestMode {
		b.WriteString("test/")
	}
	if user.UploadImages {
		b.WriteString("academia/")
	}

	if IsCSV(localPath) {
		b.WriteString("log_events/")
		b.WriteString(opts.BuildVersion)
		b.WriteString("/")
		b.WriteString(opts.NewID())
		b.WriteString(".csv")
		return b.String()
	}

	name := strings.TrimSuffix(filepath.Base(localPath), filepath.Ext(localPath))
	b.WriteString("tenant/")
	b.WriteString(user.TenantID)
	b.WriteString("_")
	b.WriteString(user.TenantName)
	b.WriteString("/")
	if user.UploadImages {
		b.WriteString("panel/")
		b.WriteString(user.PanelID)
		b.WriteString("/")
		b.WriteString(opts.BuildVersion)
		b.WriteString("/panelist/")
	} else {
		b.WriteString(opts.BuildVersion)
		b.WriteString("/")
	}
	b.WriteString(user.EmailHash)
	b.WriteString("/")
	b.WriteString(name)
	b.WriteString(".zip")
	return b.String()
}
