// Package extract turns raw posting payloads into structured jobs through a
// tiered model pipeline with strict output normalization.
package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

const (
	summaryMaxWords = 60

	// defaultConfidence applies when the model omits the field.
	defaultConfidence = 0.5
	// fallbackConfidence marks jobs built from metadata after the model
	// failed, and emptyConfidence marks placeholders for postings with no
	// body text at all.
	fallbackConfidence = 0.3
	emptyConfidence    = 0.1
)

// flexString accepts a string, a singleton list, or null. Models routinely
// answer ["Berlin"] where a string was asked for.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		if len(list) > 0 {
			*f = flexString(list[0])
		} else {
			*f = ""
		}
		return nil
	}
	*f = ""
	return nil
}

// flexInt accepts an integer, a float, a numeric string, or null.
type flexInt struct {
	value *int
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		v := int(math.Round(num))
		f.value = &v
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			v := int(math.Round(parsed))
			f.value = &v
		}
		return nil
	}
	f.value = nil
	return nil
}

// flexStrings accepts a list of strings or a single bare string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil && s != "" {
		*f = []string{s}
		return nil
	}
	*f = nil
	return nil
}

// rawExtraction mirrors one model output object field for field, with
// tolerant types on everything the model gets to choose.
type rawExtraction struct {
	JobRef          string      `json:"job_ref"`
	CompanyName     flexString  `json:"company_name"`
	CompanyDomain   flexString  `json:"company_domain"`
	RoleTitle       flexString  `json:"role_title"`
	SeniorityLevel  flexString  `json:"seniority_level"`
	Department      flexString  `json:"department"`
	JobFunction     flexString  `json:"job_function"`
	LocationCity    flexString  `json:"location_city"`
	LocationState   flexString  `json:"location_state"`
	LocationCountry flexString  `json:"location_country"`
	RemoteType      flexString  `json:"remote_type"`
	EmploymentType  flexString  `json:"employment_type"`
	SalaryMinUSD    flexInt     `json:"salary_min_usd"`
	SalaryMaxUSD    flexInt     `json:"salary_max_usd"`
	JobSummary      flexString  `json:"job_summary"`
	SkillsRaw       flexStrings `json:"skills_raw"`
	ToolsRaw        flexStrings `json:"tools_raw"`
	Confidence      *float64    `json:"confidence"`
}

// Extracted is one normalized extraction. Enum fields always hold a
// vocabulary value and the summary is capped at sixty words.
type Extracted struct {
	Ref pipeline.JobRef

	CompanyName   string
	CompanyDomain string
	RoleTitle     string

	Seniority       pipeline.Seniority
	Function        pipeline.JobFunction
	Department      string
	LocationCity    string
	LocationState   string
	LocationCountry string
	RemoteType      pipeline.RemoteType
	EmploymentType  pipeline.EmploymentType

	SalaryMinUSD *int
	SalaryMaxUSD *int

	Summary    string
	SkillsRaw  []string
	ToolsRaw   []string
	Confidence float64

	// CompanyMissing and TitleMissing record that the model returned no
	// usable value and the field was backfilled from metadata or a
	// placeholder. Escalation looks at these, not the backfilled strings.
	CompanyMissing bool
	TitleMissing   bool
}

// normalizeRaw converts a tolerant model object into the closed schema.
// fallbackTitle and fallbackCompany fill holes from provider metadata.
func normalizeRaw(raw rawExtraction, ref pipeline.JobRef, fallbackTitle, fallbackCompany string) Extracted {
	e := Extracted{
		Ref:             ref,
		CompanyName:     strings.TrimSpace(string(raw.CompanyName)),
		CompanyDomain:   strings.TrimSpace(string(raw.CompanyDomain)),
		RoleTitle:       strings.TrimSpace(string(raw.RoleTitle)),
		Seniority:       pipeline.ParseSeniority(string(raw.SeniorityLevel)),
		Function:        pipeline.ParseJobFunction(string(raw.JobFunction)),
		Department:      strings.TrimSpace(string(raw.Department)),
		LocationCity:    strings.TrimSpace(string(raw.LocationCity)),
		LocationState:   strings.TrimSpace(string(raw.LocationState)),
		LocationCountry: strings.TrimSpace(string(raw.LocationCountry)),
		RemoteType:      pipeline.ParseRemoteType(string(raw.RemoteType)),
		EmploymentType:  pipeline.ParseEmploymentType(string(raw.EmploymentType)),
		SalaryMinUSD:    raw.SalaryMinUSD.value,
		SalaryMaxUSD:    raw.SalaryMaxUSD.value,
		Summary:         truncateWords(strings.TrimSpace(string(raw.JobSummary)), summaryMaxWords),
		SkillsRaw:       raw.SkillsRaw,
		ToolsRaw:        raw.ToolsRaw,
		Confidence:      defaultConfidence,
	}
	if raw.Confidence != nil {
		e.Confidence = clamp01(*raw.Confidence)
	}
	if e.CompanyName == "" {
		e.CompanyMissing = true
		e.CompanyName = fallbackCompany
	}
	if e.CompanyName == "" {
		e.CompanyName = "Unknown"
	}
	if e.RoleTitle == "" {
		e.TitleMissing = true
		e.RoleTitle = fallbackTitle
	}
	if e.RoleTitle == "" {
		e.RoleTitle = "Unknown Role"
	}
	return e
}

// fallbackExtraction builds the metadata-only stub used when the model gives
// nothing usable after all attempts.
func fallbackExtraction(ref pipeline.JobRef, title, company string) Extracted {
	e := normalizeRaw(rawExtraction{}, ref, title, company)
	e.Confidence = fallbackConfidence
	return e
}

func truncateWords(s string, max int) string {
	words := strings.Fields(s)
	if len(words) <= max {
		return s
	}
	return strings.Join(words[:max], " ") + "..."
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// refString serializes a posting identity for prompt correlation.
func refString(ref pipeline.JobRef) string {
	return fmt.Sprintf("%s|%s|%s", ref.SourceType, ref.SourceKey, ref.SourceJobID)
}

func parseRef(s string) (pipeline.JobRef, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return pipeline.JobRef{}, fmt.Errorf("malformed job ref %q", s)
	}
	return pipeline.JobRef{
		SourceType:  pipeline.SourceType(parts[0]),
		SourceKey:   parts[1],
		SourceJobID: parts[2],
	}, nil
}
