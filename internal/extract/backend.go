package extract

import "context"

// Request is one posting prepared for the model: cleaned text plus the
// metadata the provider exposed directly.
type Request struct {
	RefString string
	Text      string
	Title     string
	Company   string
	Location  string
}

// ResultKind classifies what a backend produced for one request.
type ResultKind string

const (
	// ResultStructured carries a normalized extraction.
	ResultStructured ResultKind = "structured"
	// ResultNeedsFallback means the batch answer had nothing usable for
	// this request; the caller should retry it individually.
	ResultNeedsFallback ResultKind = "needs_fallback"
	// ResultFailed means the request itself could not be served.
	ResultFailed ResultKind = "failed"
)

// Result is the per-request outcome of a batch call.
type Result struct {
	Kind      ResultKind
	Extracted Extracted
	Err       error
}

func structured(e Extracted) Result { return Result{Kind: ResultStructured, Extracted: e} }
func needsFallback() Result         { return Result{Kind: ResultNeedsFallback} }
func failed(err error) Result       { return Result{Kind: ResultFailed, Err: err} }

// Backend is one model provider. ExtractBatch returns a result per request,
// aligned by index; a returned error means the whole call failed and nothing
// was extracted. ExtractSingle is the per-posting fallback path.
type Backend interface {
	Name() string
	ExtractBatch(ctx context.Context, reqs []Request) ([]Result, error)
	ExtractSingle(ctx context.Context, req Request) (Extracted, error)
}

// estimateTokens approximates the model token count of a prompt. Four bytes
// per token is the usual rule of thumb for English prose.
func estimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
