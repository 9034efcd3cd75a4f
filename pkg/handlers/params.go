package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// packageNamePattern matches Android application ids such as com.example.app.
var packageNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)+$`)

// ValidPackageName reports whether name looks like an application id.
func ValidPackageName(name string) bool {
	return packageNamePattern.MatchString(name)
}

// ParsePackageName extracts and validates the package name from the request path.
// Returns the name and true on success, or "" and false on error
// (after writing an error response).
// Expects path parameter: package
func ParsePackageName(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (string, bool) {
	name := strings.TrimSpace(r.PathValue("package"))
	if !ValidPackageName(name) {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_package", "Invalid package name"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return "", false
	}
	return name, true
}
