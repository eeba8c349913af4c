// Package classify labels intercepted requests so the worker can pick a
// caching strategy.
package classify

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// Label is the classification of a single request.
type Label string

const (
	// StaticAsset requests are served cache-first from the static store.
	StaticAsset Label = "static-asset"

	// DataAPI requests are served network-first with data-store fallback.
	DataAPI Label = "data-api"

	// PageNavigation requests are served network-first with the offline page
	// as the last resort.
	PageNavigation Label = "page-navigation"

	// Unhandled requests are passed through untouched.
	Unhandled Label = "unhandled"
)

// Config holds the route tables the classifier matches against.
type Config struct {
	// Scope is the origin the worker controls. Absolute request URLs with a
	// different scheme or host are Unhandled. Nil accepts any origin.
	Scope *url.URL

	// StaticPrefixes are build output path prefixes (e.g. "/assets/").
	StaticPrefixes []string

	// StaticPatterns are glob patterns matched against the path
	// (e.g. "**/*.{js,css}").
	StaticPatterns []string

	// DataPrefixes are known data routes (e.g. "/api/schedule").
	DataPrefixes []string

	// APIPrefix is the generic API path segment (e.g. "/api/"). Any path
	// containing it is a data request.
	APIPrefix string
}

// DefaultConfig returns the routes of the campus app.
func DefaultConfig() Config {
	return Config{
		StaticPrefixes: []string{"/assets/", "/static/", "/icons/"},
		StaticPatterns: []string{
			"**/*.{js,mjs,css,map}",
			"**/*.{png,jpg,jpeg,gif,svg,webp,ico}",
			"**/*.{woff,woff2,ttf,otf}",
			"/manifest.{json,webmanifest}",
		},
		DataPrefixes: []string{
			"/api/schedule",
			"/api/grades",
			"/api/announcements",
			"/api/notifications",
			"/api/services",
			"/api/wellness",
			"/api/map",
			"/api/courses",
			"/api/programs",
		},
		APIPrefix: "/api/",
	}
}

// staticDestinations are Sec-Fetch-Dest values of subresource loads.
var staticDestinations = map[string]bool{
	"script": true,
	"style":  true,
	"image":  true,
	"font":   true,
}

// Classifier assigns a Label to each request.
type Classifier struct {
	cfg      Config
	patterns []glob.Glob
}

// New compiles cfg into a Classifier.
func New(cfg Config) (*Classifier, error) {
	c := &Classifier{cfg: cfg}
	for _, p := range cfg.StaticPatterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("static pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, g)
	}
	return c, nil
}

// Classify labels r. Exactly one label is returned.
func (c *Classifier) Classify(r *http.Request) Label {
	if r == nil || r.URL == nil {
		return Unhandled
	}

	// Origin and scheme are checked before anything else
	if !c.inScope(r.URL) {
		return Unhandled
	}

	if r.Method != "" && r.Method != http.MethodGet {
		return Unhandled
	}

	path := r.URL.Path
	if path == "" {
		path = "/"
	}

	if c.isStatic(r, path) {
		return StaticAsset
	}
	if c.isData(path) {
		return DataAPI
	}
	if isNavigation(r) {
		return PageNavigation
	}
	return Unhandled
}

func (c *Classifier) inScope(u *url.URL) bool {
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !u.IsAbs() || c.cfg.Scope == nil {
		return true
	}
	return strings.EqualFold(u.Scheme, c.cfg.Scope.Scheme) &&
		strings.EqualFold(u.Host, c.cfg.Scope.Host)
}

func (c *Classifier) isStatic(r *http.Request, path string) bool {
	if staticDestinations[strings.ToLower(r.Header.Get("Sec-Fetch-Dest"))] {
		return true
	}
	for _, prefix := range c.cfg.StaticPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, g := range c.patterns {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func (c *Classifier) isData(path string) bool {
	for _, prefix := range c.cfg.DataPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return c.cfg.APIPrefix != "" && strings.Contains(path, c.cfg.APIPrefix)
}

// isNavigation detects top-level document loads. Clients that do not send
// Fetch Metadata are recognised by an Accept header asking for HTML.
func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
