package models

// RestrictedApp is an app excluded from capture.
type RestrictedApp struct {
	ID               int64  `json:"id" yaml:"-"`
	AppName          string `json:"app_name" yaml:"name"`
	PackageName      string `json:"package_name" yaml:"package"`
	IsUserRestricted bool   `json:"is_user_restricted" yaml:"user_restricted"`
	Timestamp        string `json:"timestamp,omitempty" yaml:"-"`
}
