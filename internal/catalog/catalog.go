// Package catalog serves the built-in program catalogs.
package catalog

import (
	"embed"
	"fmt"
	"sort"

	"github.com/claude/njktraining/internal/models"
)

//go:embed data/*.json
var files embed.FS

// Built-in catalog names, as used in the resume snapshot's gender field.
const (
	Calisthenic = "Cal"
	Male        = "Male"
	Female      = "Female"
	Personal    = "Pers"
)

var paths = map[string]string{
	Calisthenic: "data/calisthenic.json",
	Male:        "data/fullbody_male.json",
	Female:      "data/fullbody_female.json",
	Personal:    "data/fullbody_pers.json",
}

// Names lists the built-in catalogs.
func Names() []string {
	names := make([]string, 0, len(paths))
	for n := range paths {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load parses a built-in catalog by name.
func Load(name string) (*models.Catalog, error) {
	path, ok := paths[name]
	if !ok {
		return nil, fmt.Errorf("unknown catalog %q", name)
	}
	data, err := files.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", name, err)
	}
	c, err := models.ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", name, err)
	}
	return c, nil
}

// Default is the fallback program for users without one of their own.
func Default() (*models.Catalog, error) {
	return Load(Calisthenic)
}
