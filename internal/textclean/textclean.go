// Package textclean turns provider payloads into plain text suitable for
// extraction prompts. Each provider buries the posting body in different
// fields and encodings; the cleaners here converge them on one shape.
package textclean

import (
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

// Payloads carry fragments with no document URL of their own.
var fallbackPageURL, _ = url.Parse("https://localhost/posting")

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLinePattern  = regexp.MustCompile(`\n{3,}`)
)

// CleanHTML reduces an HTML fragment to readable plain text. Full documents
// go through readability to drop chrome and boilerplate; fragments, or
// documents readability cannot parse, fall back to tag stripping.
func CleanHTML(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	if article, err := readability.FromReader(strings.NewReader(raw), fallbackPageURL); err == nil {
		if text := normalizeWhitespace(article.TextContent); text != "" {
			return text
		}
	}
	return normalizeWhitespace(html.UnescapeString(tagPattern.ReplaceAllString(raw, " ")))
}

// normalizeWhitespace collapses runs of spaces and limits consecutive blank
// lines to one, trimming each line.
func normalizeWhitespace(s string) string {
	s = whitespacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.TrimSpace(strings.Join(lines, "\n"))
	return blankLinePattern.ReplaceAllString(s, "\n\n")
}

// Metadata carries posting fields read directly from the provider payload,
// available without any model call.
type Metadata struct {
	Title       string
	CompanyName string
	Location    string
}

type greenhousePayload struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	Description string `json:"description"`
	CompanyName string `json:"company_name"`
	Location    struct {
		Name string `json:"name"`
	} `json:"location"`
}

type leverPayload struct {
	Text             string `json:"text"`
	DescriptionPlain string `json:"descriptionPlain"`
	Description      string `json:"description"`
	Lists            []struct {
		Text    string `json:"text"`
		Content string `json:"content"`
	} `json:"lists"`
	Categories struct {
		Location   string `json:"location"`
		Team       string `json:"team"`
		Commitment string `json:"commitment"`
	} `json:"categories"`
}

// ExtractText pulls the posting body out of a raw provider payload and
// cleans it to plain text. An empty result is not an error; some postings
// genuinely carry no body.
func ExtractText(sourceType pipeline.SourceType, payload []byte) (string, error) {
	switch sourceType {
	case pipeline.SourceGreenhouse:
		var p greenhousePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", fmt.Errorf("decode greenhouse payload: %w", err)
		}
		body := p.Content
		if body == "" {
			body = p.Description
		}
		// Greenhouse double-escapes the content HTML.
		return CleanHTML(html.UnescapeString(body)), nil

	case pipeline.SourceLever:
		var p leverPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return "", fmt.Errorf("decode lever payload: %w", err)
		}
		if p.DescriptionPlain != "" {
			out := normalizeWhitespace(p.DescriptionPlain)
			for _, list := range p.Lists {
				section := CleanHTML(list.Content)
				if section == "" {
					continue
				}
				out += "\n\n" + strings.TrimSpace(list.Text) + "\n" + section
			}
			return normalizeWhitespace(out), nil
		}
		parts := []string{CleanHTML(p.Description)}
		for _, list := range p.Lists {
			if section := CleanHTML(list.Content); section != "" {
				parts = append(parts, strings.TrimSpace(list.Text)+"\n"+section)
			}
		}
		return normalizeWhitespace(strings.Join(parts, "\n\n")), nil

	default:
		return "", fmt.Errorf("unsupported source type %q", sourceType)
	}
}

// ExtractMetadata reads title, company and location from the payload where
// the provider exposes them. Missing fields stay empty; callers fall back to
// model output.
func ExtractMetadata(sourceType pipeline.SourceType, sourceKey string, payload []byte) (Metadata, error) {
	switch sourceType {
	case pipeline.SourceGreenhouse:
		var p greenhousePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Metadata{}, fmt.Errorf("decode greenhouse payload: %w", err)
		}
		company := p.CompanyName
		if company == "" {
			company = sourceKey
		}
		return Metadata{
			Title:       strings.TrimSpace(p.Title),
			CompanyName: strings.TrimSpace(company),
			Location:    strings.TrimSpace(p.Location.Name),
		}, nil

	case pipeline.SourceLever:
		var p leverPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Metadata{}, fmt.Errorf("decode lever payload: %w", err)
		}
		return Metadata{
			Title:       strings.TrimSpace(p.Text),
			CompanyName: sourceKey,
			Location:    strings.TrimSpace(p.Categories.Location),
		}, nil

	default:
		return Metadata{}, fmt.Errorf("unsupported source type %q", sourceType)
	}
}
