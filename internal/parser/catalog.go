package parser

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/machine-monitor/backend/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalogYAML []byte

// DefaultCatalog returns the built-in display catalog.
func DefaultCatalog() *models.Catalog {
	c, err := ParseCatalogFromReader(bytes.NewReader(defaultCatalogYAML))
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog parses the catalog at filePath, or returns the built-in
// catalog when filePath is empty.
func LoadCatalog(filePath string) (*models.Catalog, error) {
	if filePath == "" {
		return DefaultCatalog(), nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseCatalogFromReader(file)
}

// ParseCatalogFromReader parses a YAML catalog from an io.Reader.
func ParseCatalogFromReader(r io.Reader) (*models.Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var catalog models.Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}
	if len(catalog.Labels) == 0 {
		return nil, fmt.Errorf("catalog has no labels")
	}

	return &catalog, nil
}
