package page

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplate(t *testing.T) {
	var tmpl Templator
	html, err := tmpl.Template(context.Background(), Params{
		RunID:     "2024-05-01_12-00-00.000000_abcd1234",
		TaskType:  "TEXT_IMAGE",
		Prompt:    "mountains & a <lake>",
		RequestID: "req-1",
		Created:   "2024-05-01T12:00:00Z",
		Images:    []string{"image_01.png", "image_02.png"},
	})
	require.NoError(t, err)

	out := string(html)
	assert.Contains(t, out, "<title>TEXT_IMAGE 2024-05-01_12-00-00.000000_abcd1234</title>")
	assert.Contains(t, out, `src="image_01.png"`)
	assert.Contains(t, out, `src="image_02.png"`)
	assert.Contains(t, out, "mountains &amp; a &lt;lake&gt;")
	assert.Contains(t, out, "req-1")
}

func TestTemplateReusable(t *testing.T) {
	var tmpl Templator
	for i := 0; i < 2; i++ {
		_, err := tmpl.Template(context.Background(), Params{RunID: "r"})
		require.NoError(t, err)
	}
}
