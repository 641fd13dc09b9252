package proxy

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.uber.org/multierr"
	"sigs.k8s.io/yaml"
)

// PathMapping liga um prefixo de path a um upstream.
//
// Exemplo de arquivo:
//
//   - path: /
//     backend: http://web:3000
//   - path: /api/
//     backend: http://api-gateway:8080
//     strip_prefix: true
type PathMapping struct {
	Path    string `json:"path"`
	Backend string `json:"backend"`
	// Name rotula métricas e logs; padrão: o próprio Path.
	Name string `json:"name,omitempty"`
	// StripPrefix remove o prefixo antes de encaminhar (desligado por padrão).
	StripPrefix bool `json:"strip_prefix,omitempty"`
}

func (m PathMapping) name() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Path
}

func (m PathMapping) validate() (*url.URL, error) {
	if !strings.HasPrefix(m.Path, "/") {
		return nil, fmt.Errorf("path %q must start with /", m.Path)
	}
	u, err := url.Parse(m.Backend)
	if err != nil {
		return nil, fmt.Errorf("path %q: failed to parse backend URL %q: %w", m.Path, m.Backend, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("path %q: backend %q must be an http(s) URL", m.Path, m.Backend)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("path %q: backend %q has no host", m.Path, m.Backend)
	}
	return u, nil
}

// LoadMappings lê o arquivo de rotas (YAML ou JSON).
func LoadMappings(file string) ([]PathMapping, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file %q: %w", file, err)
	}

	var mappings []PathMapping
	if err := yaml.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mapping file %q: %w", file, err)
	}
	if len(mappings) == 0 {
		return nil, fmt.Errorf("mapping file %q has no routes", file)
	}
	return mappings, nil
}

// DefaultMappings monta as duas rotas padrão: / para o frontend web e /api/
// para o gateway de API. URLs vazias são omitidas.
func DefaultMappings(webURL, apiURL string) []PathMapping {
	var out []PathMapping
	if webURL != "" {
		out = append(out, PathMapping{Path: "/", Backend: webURL, Name: "web"})
	}
	if apiURL != "" {
		out = append(out, PathMapping{Path: "/api/", Backend: apiURL, Name: "api"})
	}
	return out
}

// ValidateMappings devolve todos os problemas encontrados, incluindo paths duplicados.
func ValidateMappings(mappings []PathMapping) error {
	var err error
	if len(mappings) == 0 {
		err = multierr.Append(err, fmt.Errorf("at least one route is required"))
	}
	seen := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		if _, verr := m.validate(); verr != nil {
			err = multierr.Append(err, verr)
		}
		if seen[m.Path] {
			err = multierr.Append(err, fmt.Errorf("duplicate route for path %q", m.Path))
		}
		seen[m.Path] = true
	}
	return err
}
