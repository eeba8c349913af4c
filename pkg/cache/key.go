package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// StoreNames holds the two version-tagged cache names of one worker version.
type StoreNames struct {
	// Static holds pages and build assets (e.g. "campus-static-v2")
	Static string

	// Data holds enveloped API payloads (e.g. "campus-data-v2")
	Data string
}

// NewStoreNames builds the cache names for an app and version.
//
// Example:
//
//	NewStoreNames("campus", 2) // {Static: "campus-static-v2", Data: "campus-data-v2"}
func NewStoreNames(app string, version int) StoreNames {
	app = strings.TrimSpace(app)
	if app == "" {
		app = "app"
	}
	return StoreNames{
		Static: fmt.Sprintf("%s-static-v%d", app, version),
		Data:   fmt.Sprintf("%s-data-v%d", app, version),
	}
}

// Current reports whether name is one of the two current cache names.
func (n StoreNames) Current(name string) bool {
	return name == n.Static || name == n.Data
}

// RequestKey generates the static-store key for a request.
// Format: METHOD path?query
//
// Example:
//
//	GET /assets/app.js?v=3
func RequestKey(method string, u *url.URL) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + DataKey(u)
}

// DataKey generates the data-store key for a URL: pathname plus search
// string. Method, headers and host are ignored.
func DataKey(u *url.URL) string {
	if u == nil {
		return "/"
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		return path + "?" + u.RawQuery
	}
	return path
}

// RootKey is the static-store key of the app shell ("GET /").
func RootKey() string {
	return RequestKey(http.MethodGet, &url.URL{Path: "/"})
}
