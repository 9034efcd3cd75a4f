package models

// Default tenant and panel assigned before the device owner is enrolled.
const (
	DefaultTenantID   = "ut_austin_tenant_1"
	DefaultTenantName = "ut_austin_tenant"
	DefaultPanelID    = "ut_austin_1"
	DefaultPanelName  = "ut_austin_panel"
)

// User is the device owner. Exactly one row exists once enrolled.
type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	EmailHash    string `json:"email_hash"`
	TenantID     string `json:"tenant_id"`
	TenantName   string `json:"tenant_name"`
	PanelID      string `json:"panel_id"`
	PanelName    string `json:"panel_name"`
	UploadImages bool   `json:"upload_images"`
	Device       string `json:"device"`
	Model        string `json:"model"`
}

// NewDefaultUser returns the owner used when no enrollment exists yet.
func NewDefaultUser() *User {
	return &User{
		TenantID:     DefaultTenantID,
		TenantName:   DefaultTenantName,
		PanelID:      DefaultPanelID,
		PanelName:    DefaultPanelName,
		UploadImages: true,
	}
}
