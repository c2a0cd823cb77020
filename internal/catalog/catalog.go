// Package catalog holds the platform specifications, diversity directives and
// quick-action instructions that steer generation.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// PlatformSpec describes how posts are shaped for one social platform.
type PlatformSpec struct {
	IdealLength   string   `yaml:"ideal_length" json:"ideal_length"`
	MaxChars      int      `yaml:"max_chars" json:"max_chars"`
	Tone          string   `yaml:"tone" json:"tone"`
	HashtagsMin   int      `yaml:"hashtags_min" json:"hashtags_min"`
	HashtagsMax   int      `yaml:"hashtags_max" json:"hashtags_max"`
	Emojis        string   `yaml:"emojis" json:"emojis"`
	LineBreaks    string   `yaml:"line_breaks" json:"line_breaks"`
	ImageSize     string   `yaml:"image_size" json:"image_size"`
	BestPractices []string `yaml:"best_practices" json:"best_practices"`
}

// Directive is the per-slot instruction that keeps a batch non-degenerate.
type Directive struct {
	Name        string `yaml:"name" json:"name"`
	Instruction string `yaml:"instruction" json:"instruction"`
}

// QuickAction is a canned feedback label with its expanded instruction.
type QuickAction struct {
	Name        string `yaml:"-" json:"name"`
	Label       string `yaml:"label" json:"label"`
	Instruction string `yaml:"instruction" json:"instruction"`
}

// Catalog is the loaded, validated catalog.
type Catalog struct {
	Platforms    map[string]PlatformSpec `yaml:"platforms"`
	Directives   []Directive             `yaml:"directives"`
	QuickActions map[string]QuickAction  `yaml:"quick_actions"`
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	normalized := make(map[string]QuickAction, len(c.QuickActions))
	for name, qa := range c.QuickActions {
		key := normalizeKey(name)
		qa.Name = key
		normalized[key] = qa
	}
	c.QuickActions = normalized
	return &c, nil
}

func (c *Catalog) validate() error {
	for _, name := range []string{"linkedin", "instagram"} {
		spec, ok := c.Platforms[name]
		if !ok {
			return fmt.Errorf("catalog: platform %q missing", name)
		}
		if spec.MaxChars <= 0 {
			return fmt.Errorf("catalog: platform %q max_chars must be positive", name)
		}
		if spec.HashtagsMax < spec.HashtagsMin {
			return fmt.Errorf("catalog: platform %q hashtag range inverted", name)
		}
	}
	if len(c.Directives) < 3 {
		return errors.New("catalog: at least three directives are required")
	}
	for i, d := range c.Directives {
		if strings.TrimSpace(d.Name) == "" || strings.TrimSpace(d.Instruction) == "" {
			return fmt.Errorf("catalog: directive %d incomplete", i)
		}
	}
	if len(c.QuickActions) == 0 {
		return errors.New("catalog: quick_actions empty")
	}
	for name, qa := range c.QuickActions {
		if strings.TrimSpace(qa.Instruction) == "" {
			return fmt.Errorf("catalog: quick action %q has no instruction", name)
		}
	}
	return nil
}

// Platform returns the spec used for text generation. "both" resolves to linkedin.
func (c *Catalog) Platform(name string) (PlatformSpec, bool) {
	key := normalizeKey(name)
	if key == "both" {
		key = "linkedin"
	}
	spec, ok := c.Platforms[key]
	return spec, ok
}

// QuickAction looks up a quick action by name.
func (c *Catalog) QuickAction(name string) (QuickAction, bool) {
	qa, ok := c.QuickActions[normalizeKey(name)]
	return qa, ok
}

// QuickActionList returns all quick actions sorted by name.
func (c *Catalog) QuickActionList() []QuickAction {
	out := make([]QuickAction, 0, len(c.QuickActions))
	for _, qa := range c.QuickActions {
		out = append(out, qa)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResolveFeedback expands a quick-action label into its instruction.
// Free text is returned trimmed and unchanged.
func (c *Catalog) ResolveFeedback(input string) (instruction string, quickAction string) {
	if qa, ok := c.QuickAction(input); ok {
		return qa.Instruction, qa.Name
	}
	return strings.TrimSpace(input), ""
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, "-", "_")
}
