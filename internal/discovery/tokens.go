package discovery

import (
	"regexp"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// URL patterns submitted to the index, and the regexes that pull the company
// token back out of matched URLs.
var (
	greenhousePatterns = []string{
		"boards.greenhouse.io/*",
		"boards-api.greenhouse.io/v1/boards/*",
	}
	leverPattern = "jobs.lever.co/*"

	greenhouseBoardRegex = regexp.MustCompile(`boards\.greenhouse\.io/([a-zA-Z0-9_-]+)`)
	greenhouseAPIRegex   = regexp.MustCompile(`boards-api\.greenhouse\.io/v1/boards/([a-zA-Z0-9_-]+)`)
	leverRegex           = regexp.MustCompile(`jobs\.lever\.co/([a-zA-Z0-9_-]+)`)
)

// Path segments that appear in the token position but are not company
// identifiers.
var (
	greenhouseReserved = map[string]struct{}{
		"embed": {}, "careers": {}, "jobs": {}, "static": {}, "assets": {},
	}
	leverReserved = map[string]struct{}{
		"embed": {}, "static": {}, "assets": {}, "api": {},
	}
)

// extractToken pulls the company token for sourceType out of a crawled URL.
// It returns "" when the URL carries no usable token.
func extractToken(sourceType pipeline.SourceType, rawURL string) string {
	switch sourceType {
	case pipeline.SourceGreenhouse:
		if m := greenhouseAPIRegex.FindStringSubmatch(rawURL); m != nil {
			return m[1]
		}
		if m := greenhouseBoardRegex.FindStringSubmatch(rawURL); m != nil {
			if _, reserved := greenhouseReserved[m[1]]; !reserved {
				return m[1]
			}
		}
	case pipeline.SourceLever:
		if m := leverRegex.FindStringSubmatch(rawURL); m != nil {
			if _, reserved := leverReserved[m[1]]; !reserved {
				return m[1]
			}
		}
	}
	return ""
}
