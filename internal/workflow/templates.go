package workflow

import (
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/opsloom/opsloom/internal/opserr"
)

// Template is one catalog entry used to seed CreateTaskInPlan calls
// with a reusable task shape (default priority/complexity/type/tags).
// Templates live in dedicated YAML files rather than the element store:
// they are catalog data, not persisted elements.
type Template struct {
	Name       string   `yaml:"name"`
	TaskType   string   `yaml:"taskType"`
	Priority   int      `yaml:"priority"`
	Complexity int      `yaml:"complexity"`
	Tags       []string `yaml:"tags"`
	BodyRef    string   `yaml:"bodyRef,omitempty"`
}

// TemplateCatalog holds templates loaded from one or more YAML files,
// later files overriding earlier ones by Name (built-in defaults first,
// project-local overrides last).
type TemplateCatalog struct {
	byName map[string]Template
}

// LoadTemplateCatalog reads each path in order (built-in defaults
// first, most specific last) and merges them into one catalog. A
// missing file is skipped, not an error, so a project without local
// overrides still gets the built-in set.
func LoadTemplateCatalog(paths ...string) (*TemplateCatalog, error) {
	cat := &TemplateCatalog{byName: map[string]Template{}}
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Clean(p))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, opserr.Wrap("workflow.loadTemplates", opserr.Storage, err, "read "+p)
		}
		var templates []Template
		if err := yaml.Unmarshal(data, &templates); err != nil {
			return nil, opserr.Wrap("workflow.loadTemplates", opserr.Validation, err, "parse "+p)
		}
		for _, t := range templates {
			cat.byName[t.Name] = t
		}
	}
	return cat, nil
}

// Get returns the named template, if present.
func (c *TemplateCatalog) Get(name string) (Template, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// List returns every catalog entry, sorted by name for determinism.
func (c *TemplateCatalog) List() []Template {
	out := make([]Template, 0, len(c.byName))
	for _, t := range c.byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
