package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<!doctype html>
<html lang="en">
<head>
  <title> University Handbook </title>
  <meta name="description" content="Course rules">
  <meta name="Keywords" content="units, majors">
  <meta property="og:type" content="website">
  <meta name="viewport" content="width=device-width">
  <script>var tracking = true;</script>
  <style>body { color: red }</style>
</head>
<body>
  <h1>Handbook</h1>
  <p>Read the <a href="/rules#section-2">rules</a> first.</p>
  <p><a href="https://partner.example.org/x">Partner</a></p>
  <p><a href="/rules">Duplicate</a> <a href="mailto:help@example.com">Mail</a> <a href="#top">Top</a></p>
  <noscript>enable js</noscript>
</body>
</html>`

func TestExtract(t *testing.T) {
	t.Parallel()

	page, err := New().Extract("https://example.com/handbook/", []byte(samplePage))
	require.NoError(t, err)

	require.Equal(t, "University Handbook", page.Title)
	require.Equal(t, "Course rules", page.Metadata["description"])
	require.Equal(t, "units, majors", page.Metadata["keywords"])
	require.Equal(t, "website", page.Metadata["og:type"])
	require.Equal(t, "en", page.Metadata["language"])
	require.NotContains(t, page.Metadata, "viewport")

	require.Len(t, page.Links.Internal, 1)
	require.Equal(t, "https://example.com/rules", page.Links.Internal[0].Href)
	require.Equal(t, "rules", page.Links.Internal[0].Text)
	require.Len(t, page.Links.External, 1)
	require.Equal(t, "https://partner.example.org/x", page.Links.External[0].Href)

	require.Contains(t, page.Content, "# Handbook")
	require.Contains(t, page.Content, "[rules](https://example.com/rules#section-2)")
	require.NotContains(t, page.Content, "tracking")
	require.NotContains(t, page.Content, "enable js")
	require.NotContains(t, page.Content, "color: red")
}

func TestExtractTitleFallback(t *testing.T) {
	t.Parallel()

	page, err := New().Extract("https://example.com/", []byte(`<html><body><h1> Only Heading </h1></body></html>`))
	require.NoError(t, err)
	require.Equal(t, "Only Heading", page.Title)
	require.Empty(t, page.Links.Internal)
	require.Empty(t, page.Links.External)
}

func TestExtractBadURL(t *testing.T) {
	t.Parallel()

	_, err := New().Extract("://bad", []byte(`<html></html>`))
	require.Error(t, err)
}

func TestClean(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a\n\nb\n\nc", Clean("  \na  \r\n\n\n\nb\n\n\n\nc\n\n"))
	require.Empty(t, Clean("\n\n \n"))
}
