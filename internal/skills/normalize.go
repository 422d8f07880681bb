// Package skills canonicalizes raw skill strings against the seeded catalog
// and maintains per-company skill rollups.
package skills

import (
	"regexp"
	"strings"
)

// aliasReplacements folds common spellings onto the catalog's canonical
// form before lookup.
var aliasReplacements = map[string]string{
	"nodejs":                "node.js",
	"node js":               "node.js",
	"gcp":                   "google cloud",
	"google cloud platform": "google cloud",
	"ms sql":                "microsoft sql server",
	"mssql":                 "microsoft sql server",
	"postgres":              "postgresql",
	"k8s":                   "kubernetes",
	"tf":                    "terraform",
	"js":                    "javascript",
	"ts":                    "typescript",
	"py":                    "python",
	"react.js":              "react",
	"reactjs":               "react",
	"vue.js":                "vue",
	"vuejs":                 "vue",
	"angular.js":            "angular",
	"angularjs":             "angular",
	"aws":                   "amazon web services",
	"sfdc":                  "salesforce",
	"hubspot crm":           "hubspot",
	"hs":                    "hubspot",
}

var spaceRun = regexp.MustCompile(`\s+`)

// Normalize lowercases, trims, collapses whitespace, and applies the alias
// table. The result is the lookup key for catalog matching and the stored
// form of unmapped values.
func Normalize(raw string) string {
	normalized := spaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(raw)), " ")
	if replacement, ok := aliasReplacements[normalized]; ok {
		return replacement
	}
	return normalized
}
