package extract

import (
	"encoding/json"
	"fmt"
)

const tier1SystemPrompt = `You extract structured hiring signals from job descriptions. Output MUST be valid JSON only.

For each job, extract:
- company_name: The hiring company name
- role_title: The job title
- seniority_level: One of [intern, junior, mid, senior, staff, principal, manager, director, vp, cxo, unknown]
- job_function: One of [sales, sales_ops, revops, marketing, product_marketing, customer_success, solutions_engineering, gtm_engineering, finance, hr, engineering, data, security, it, legal, operations, other]
- remote_type: One of [onsite, hybrid, remote, unknown]
- employment_type: One of [full_time, part_time, contract, internship, temporary, unknown]
- location_city, location_state, location_country: Location components if mentioned
- salary_min_usd, salary_max_usd: Salary range in USD if explicitly stated, else null
- job_summary: A 1-2 sentence summary (max 60 words)
- skills_raw: Array of skills/technologies mentioned
- tools_raw: Array of specific tools/software mentioned
- confidence: Your confidence in the extraction (0.0-1.0)

Output a JSON array matching the input order.`

const singleSystemPrompt = "You are a job data extractor. Output ONLY valid JSON, no other text."

// buildBatchPrompt serializes the requests with their metadata folded into
// the text so the model sees one self-contained document per job.
func buildBatchPrompt(reqs []Request) (string, error) {
	type batchItem struct {
		JobRef string `json:"job_ref"`
		Text   string `json:"text"`
	}
	items := make([]batchItem, 0, len(reqs))
	for _, req := range reqs {
		header := fmt.Sprintf("Title: %s\nCompany: %s\nLocation: %s\n\n", req.Title, req.Company, req.Location)
		items = append(items, batchItem{JobRef: req.RefString, Text: header + req.Text})
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal batch payload: %w", err)
	}

	return fmt.Sprintf(`Extract structured data from these job postings.

Input jobs:
%s

Output a JSON array with one object per job. Each object must include the job_ref from input.`, payload), nil
}

// buildSinglePrompt asks for one object and seeds the shape with the known
// metadata.
func buildSinglePrompt(req Request, maxTextChars int) string {
	text := req.Text
	if maxTextChars > 0 && len(text) > maxTextChars {
		text = text[:maxTextChars]
	}
	return fmt.Sprintf(`Extract structured information from this job posting. Return ONLY valid JSON.

Job Title: %s
Company: %s
Location: %s

Job Description:
%s

Return JSON with these fields:
{
  "role_title": %q,
  "company_name": %q,
  "seniority_level": "unknown",
  "job_function": "other",
  "remote_type": "unknown",
  "employment_type": "full_time",
  "location_city": null,
  "location_state": null,
  "location_country": null,
  "salary_min_usd": null,
  "salary_max_usd": null,
  "job_summary": "Brief 1-2 sentence summary",
  "skills_raw": ["skill1", "skill2"],
  "tools_raw": ["tool1", "tool2"],
  "confidence": 0.8
}

Analyze the job and fill in accurate values based on the description.`,
		req.Title, req.Company, req.Location, text, req.Title, req.Company)
}
