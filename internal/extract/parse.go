package extract

import (
	"encoding/json"
	"strings"
)

// parseObjectResponse pulls the first balanced-looking JSON object out of a
// model answer that may be wrapped in prose or code fences.
func parseObjectResponse(answer string) (rawExtraction, bool) {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start == -1 || end <= start {
		return rawExtraction{}, false
	}
	var raw rawExtraction
	if err := json.Unmarshal([]byte(answer[start:end+1]), &raw); err != nil {
		return rawExtraction{}, false
	}
	return raw, true
}

// parseArrayResponse pulls a JSON array out of a model answer, first as-is
// and then by slicing the outermost brackets.
func parseArrayResponse(answer string) ([]rawExtraction, bool) {
	var items []rawExtraction
	if err := json.Unmarshal([]byte(answer), &items); err == nil {
		return items, true
	}

	start := strings.Index(answer, "[")
	end := strings.LastIndex(answer, "]")
	if start == -1 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(answer[start:end+1]), &items); err != nil {
		return nil, false
	}
	return items, true
}

// correlate matches batch answer items back to requests, by job_ref when the
// model echoed it and by position otherwise.
func correlate(reqs []Request, items []rawExtraction) []*rawExtraction {
	byRef := make(map[string]*rawExtraction, len(items))
	for i := range items {
		if items[i].JobRef != "" {
			byRef[items[i].JobRef] = &items[i]
		}
	}

	out := make([]*rawExtraction, len(reqs))
	for i, req := range reqs {
		if item, ok := byRef[req.RefString]; ok {
			out[i] = item
			continue
		}
		if i < len(items) && items[i].JobRef == "" {
			out[i] = &items[i]
		}
	}
	return out
}
