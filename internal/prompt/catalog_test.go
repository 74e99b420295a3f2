package prompt

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedCatalog(t *testing.T) {
	cat, err := NewCatalog("")
	require.NoError(t, err)

	for _, stage := range []Stage{StageDescribe, StageConvert, StageUpdate} {
		text, err := cat.SystemPrompt(stage)
		require.NoError(t, err, stage)
		assert.NotEmpty(t, text, stage)
	}

	examples, err := cat.Examples()
	require.NoError(t, err)
	require.Len(t, examples, 3)
	// Manifest order: serverless, websocket chat, two tier.
	assert.Contains(t, examples[0], "aws_lambda_function")
	assert.Contains(t, examples[1], "WEBSOCKET")
	assert.Contains(t, examples[2], "aws_db_instance")
}

func TestCatalogOverrideDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	write("catalog.yaml", "prompts:\n  describe: d.txt\n  convert: c.txt\n  update: u.txt\nexamples:\n  - ex/b.tf\n  - ex/a.tf\n")
	write("d.txt", "describe it")
	write("c.txt", "convert it")
	write("u.txt", "update it")
	write("ex/a.tf", "A")
	write("ex/b.tf", "B")

	cat, err := NewCatalog(dir)
	require.NoError(t, err)

	text, err := cat.SystemPrompt(StageConvert)
	require.NoError(t, err)
	assert.Equal(t, "convert it", text)

	examples, err := cat.Examples()
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, examples)

	// Edits are picked up without reloading the catalog.
	write("u.txt", "update it again")
	text, err = cat.SystemPrompt(StageUpdate)
	require.NoError(t, err)
	assert.Equal(t, "update it again", text)
}

func TestCatalogMissingStage(t *testing.T) {
	fsys := fstest.MapFS{
		"catalog.yaml": {Data: []byte("prompts:\n  describe: d.txt\n  convert: c.txt\n")},
	}

	_, err := NewCatalogFS(fsys)
	assert.Error(t, err)
}

func TestCatalogMissingExampleFile(t *testing.T) {
	fsys := fstest.MapFS{
		"catalog.yaml": {Data: []byte("prompts:\n  describe: d.txt\n  convert: c.txt\n  update: u.txt\nexamples: [missing.tf]\n")},
	}

	cat, err := NewCatalogFS(fsys)
	require.NoError(t, err)

	_, err = cat.Examples()
	assert.Error(t, err)
}

func TestCatalogBadManifest(t *testing.T) {
	fsys := fstest.MapFS{
		"catalog.yaml": {Data: []byte("prompts: [this is not a map")},
	}

	_, err := NewCatalogFS(fsys)
	assert.Error(t, err)
}
