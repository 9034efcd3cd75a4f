package models

// ZipManifest points at one archive on local storage that is waiting to be
// uploaded. A manifest with ID 0 is a stray file discovered on disk.
type ZipManifest struct {
	ID             int64  `json:"id"`
	File           string `json:"file"`
	Timestamp      string `json:"timestamp"`
	LocalTimestamp string `json:"local_timestamp"`
	User           string `json:"user"`
	PanelID        string `json:"panel_id"`
	PanelName      string `json:"panel_name"`
	TenantID       string `json:"tenant_id"`
	ToDelete       bool   `json:"to_delete"`
}

// Persisted reports whether the manifest has a backing row.
func (z *ZipManifest) Persisted() bool {
	return z.ID > 0
}
