package prompt

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed assets
var assetsFS embed.FS

// manifestFile lists the system prompts and the example snippets, in order.
const manifestFile = "catalog.yaml"

type manifest struct {
	Prompts  map[Stage]string `yaml:"prompts"`
	Examples []string         `yaml:"examples"`
}

// Catalog serves the static prompt material: one system prompt per stage and
// the example Terraform snippets for the convert stage. Files are read on
// every call so an override directory can be edited without a restart.
type Catalog struct {
	fsys fs.FS
}

// NewCatalog returns a catalog backed by dir, or by the embedded defaults when
// dir is empty. The manifest is checked up front so a broken override fails
// at startup rather than on the first request.
func NewCatalog(dir string) (*Catalog, error) {
	var fsys fs.FS
	if dir == "" {
		sub, err := fs.Sub(assetsFS, "assets")
		if err != nil {
			return nil, fmt.Errorf("failed to open embedded prompts: %w", err)
		}
		fsys = sub
	} else {
		fsys = os.DirFS(dir)
	}
	return NewCatalogFS(fsys)
}

// NewCatalogFS returns a catalog backed by fsys.
func NewCatalogFS(fsys fs.FS) (*Catalog, error) {
	c := &Catalog{fsys: fsys}
	m, err := c.manifest()
	if err != nil {
		return nil, err
	}
	for _, stage := range []Stage{StageDescribe, StageConvert, StageUpdate} {
		if m.Prompts[stage] == "" {
			return nil, fmt.Errorf("%s: no system prompt for stage %q", manifestFile, stage)
		}
	}
	return c, nil
}

func (c *Catalog) manifest() (*manifest, error) {
	data, err := fs.ReadFile(c.fsys, manifestFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", manifestFile, err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", manifestFile, err)
	}
	return &m, nil
}

// SystemPrompt returns the system prompt for stage.
func (c *Catalog) SystemPrompt(stage Stage) (string, error) {
	m, err := c.manifest()
	if err != nil {
		return "", err
	}
	name, ok := m.Prompts[stage]
	if !ok {
		return "", fmt.Errorf("no system prompt for stage %q", stage)
	}
	return c.readText(name)
}

// Examples returns the example snippets in manifest order.
func (c *Catalog) Examples() ([]string, error) {
	m, err := c.manifest()
	if err != nil {
		return nil, err
	}
	examples := make([]string, 0, len(m.Examples))
	for _, name := range m.Examples {
		text, err := c.readText(name)
		if err != nil {
			return nil, err
		}
		examples = append(examples, text)
	}
	return examples, nil
}

func (c *Catalog) readText(name string) (string, error) {
	data, err := fs.ReadFile(c.fsys, path.Clean(name))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), nil
}
