package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

type restrictedAppsFile struct {
	Apps []*models.RestrictedApp `yaml:"apps"`
}

// LoadRestrictedApps reads the restricted-app seed list. Entries without a
// package are rejected; a missing name defaults to the package.
func LoadRestrictedApps(path string) ([]*models.RestrictedApp, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read restricted apps file: %w", err)
	}
	return ParseRestrictedApps(data)
}

// ParseRestrictedApps decodes a restricted-app seed document.
func ParseRestrictedApps(data []byte) ([]*models.RestrictedApp, error) {
	var doc restrictedAppsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse restricted apps: %w", err)
	}

	seen := make(map[string]bool, len(doc.Apps))
	apps := make([]*models.RestrictedApp, 0, len(doc.Apps))
	for i, app := range doc.Apps {
		if app == nil {
			return nil, fmt.Errorf("restricted app %d is empty", i)
		}
		app.PackageName = strings.TrimSpace(app.PackageName)
		if app.PackageName == "" {
			return nil, fmt.Errorf("restricted app %d has no package", i)
		}
		if seen[app.PackageName] {
			continue
		}
		seen[app.PackageName] = true
		if strings.TrimSpace(app.AppName) == "" {
			app.AppName = app.PackageName
		}
		apps = append(apps, app)
	}
	return apps, nil
}
