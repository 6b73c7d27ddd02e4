// Package prompts holds the system prompt templates of the built-in agents.
// Templates are Go text/templates rendered against the run metadata.
package prompts

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Prompt is the prompt configuration of one agent.
type Prompt struct {
	Description string `yaml:"description"`
	System      string `yaml:"system"`

	tmpl *template.Template
}

// Set is an immutable collection of agent prompts.
type Set struct {
	Version string             `yaml:"version"`
	Agents  map[string]*Prompt `yaml:"agents"`
}

var funcs = template.FuncMap{
	"json": func(v any) string {
		if v == nil {
			return "{}"
		}
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	},
}

// Default returns the built-in prompt set.
func Default() *Set {
	s, err := parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in prompts: %v", err))
	}
	return s
}

// Load reads a YAML prompt file and overlays it on the defaults. An empty
// path returns the defaults.
func Load(path string) (*Set, error) {
	base := Default()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	overlay, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompts file %s: %w", path, err)
	}

	if overlay.Version != "" {
		base.Version = overlay.Version
	}
	for name, p := range overlay.Agents {
		if existing, ok := base.Agents[name]; ok {
			if p.Description == "" {
				p.Description = existing.Description
			}
			if p.System == "" {
				p.System, p.tmpl = existing.System, existing.tmpl
			}
		}
		base.Agents[name] = p
	}
	return base, nil
}

func parse(data []byte) (*Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Agents == nil {
		s.Agents = make(map[string]*Prompt)
	}
	for name, p := range s.Agents {
		if p == nil {
			return nil, fmt.Errorf("agent %q: empty prompt", name)
		}
		if p.System == "" {
			continue
		}
		tmpl, err := template.New(name).Funcs(funcs).Parse(p.System)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", name, err)
		}
		p.tmpl = tmpl
	}
	return &s, nil
}

// Description returns the agent description, or "".
func (s *Set) Description(agent string) string {
	if p, ok := s.Agents[agent]; ok {
		return p.Description
	}
	return ""
}

// Render renders the agent's system prompt against data.
func (s *Set) Render(agent string, data map[string]any) (string, error) {
	p, ok := s.Agents[agent]
	if !ok || p.tmpl == nil {
		return "", fmt.Errorf("no prompt for agent %q", agent)
	}
	if data == nil {
		data = map[string]any{}
	}

	var b strings.Builder
	if err := p.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render prompt for %q: %w", agent, err)
	}
	return strings.TrimSpace(b.String()), nil
}
