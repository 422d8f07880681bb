package textclean

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hiresignal/jobs-pipeline/internal/pipeline"
)

func TestCleanHTML_StripsTagsAndEntities(t *testing.T) {
	t.Parallel()

	out := CleanHTML(`<p>Senior <b>Go</b> engineer &amp; platform lead</p>`)
	require.Contains(t, out, "Senior Go engineer & platform lead")
	require.NotContains(t, out, "<")
}

func TestCleanHTML_Empty(t *testing.T) {
	t.Parallel()

	require.Equal(t, "", CleanHTML(""))
	require.Equal(t, "", CleanHTML("   \n "))
}

func TestNormalizeWhitespace(t *testing.T) {
	t.Parallel()

	in := "a   b\t c \n\n\n\n d  \n"
	require.Equal(t, "a b c\n\nd", normalizeWhitespace(in))
}

func TestExtractText_GreenhouseUnescapesContent(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"title":"Backend Engineer","content":"&lt;p&gt;Build &amp;amp; run services&lt;/p&gt;"}`)
	text, err := ExtractText(pipeline.SourceGreenhouse, payload)
	require.NoError(t, err)
	require.Contains(t, text, "Build & run services")
	require.NotContains(t, text, "&lt;")
}

func TestExtractText_LeverPrefersPlainAndAppendsLists(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"text": "Data Engineer",
		"descriptionPlain": "We move data.",
		"description": "<p>ignored when plain exists</p>",
		"lists": [
			{"text": "Requirements", "content": "<li>SQL</li><li>Python</li>"},
			{"text": "Empty", "content": ""}
		]
	}`)
	text, err := ExtractText(pipeline.SourceLever, payload)
	require.NoError(t, err)
	require.Contains(t, text, "We move data.")
	require.Contains(t, text, "Requirements")
	require.Contains(t, text, "SQL")
	require.NotContains(t, text, "ignored when plain exists")
}

func TestExtractText_LeverFallsBackToHTMLDescription(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"description": "<p>Ship product</p>", "lists": [{"text":"Perks","content":"<li>Coffee</li>"}]}`)
	text, err := ExtractText(pipeline.SourceLever, payload)
	require.NoError(t, err)
	require.Contains(t, text, "Ship product")
	require.Contains(t, text, "Coffee")
}

func TestExtractText_EmptyBodyIsNotAnError(t *testing.T) {
	t.Parallel()

	text, err := ExtractText(pipeline.SourceGreenhouse, []byte(`{"title":"Ghost"}`))
	require.NoError(t, err)
	require.Equal(t, "", text)
}

func TestExtractText_UnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := ExtractText("workday", []byte(`{}`))
	require.Error(t, err)
}

func TestExtractMetadata_Greenhouse(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"title":" SRE ","company_name":"Acme Corp","location":{"name":"Berlin"}}`)
	md, err := ExtractMetadata(pipeline.SourceGreenhouse, "acme", payload)
	require.NoError(t, err)
	require.Equal(t, Metadata{Title: "SRE", CompanyName: "Acme Corp", Location: "Berlin"}, md)
}

func TestExtractMetadata_GreenhouseFallsBackToSourceKey(t *testing.T) {
	t.Parallel()

	md, err := ExtractMetadata(pipeline.SourceGreenhouse, "acme", []byte(`{"title":"SRE"}`))
	require.NoError(t, err)
	require.Equal(t, "acme", md.CompanyName)
}

func TestExtractMetadata_Lever(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"text":"Data Engineer","categories":{"location":"Remote - EU"}}`)
	md, err := ExtractMetadata(pipeline.SourceLever, "globex", payload)
	require.NoError(t, err)
	require.Equal(t, Metadata{Title: "Data Engineer", CompanyName: "globex", Location: "Remote - EU"}, md)
}
