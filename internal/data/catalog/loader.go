package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"postsmith/app/internal/domain/content"
)

//go:embed default.yaml
var defaultCatalog []byte

// File is the on-disk shape of a catalog.
type File struct {
	Topics []string `yaml:"topics"`
	Styles []string `yaml:"styles"`
}

// Default returns the built-in catalog.
func Default() (content.Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog at path, falling back to Default when path is blank.
func Load(path string) (content.Catalog, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return Default()
	}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		return content.Catalog{}, eris.Wrapf(err, "reading catalog file %s", trimmed)
	}

	catalog, err := Parse(data)
	if err != nil {
		return content.Catalog{}, eris.Wrapf(err, "loading catalog file %s", trimmed)
	}

	return catalog, nil
}

// Parse decodes a YAML catalog and validates it. Unknown keys are rejected.
func Parse(data []byte) (content.Catalog, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var file File
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return content.Catalog{}, eris.New("catalog is empty")
		}
		return content.Catalog{}, eris.Wrap(err, "decoding catalog yaml")
	}

	return content.NewCatalog(file.Topics, file.Styles)
}
