package domain

import (
	"strings"

	"gopkg.in/yaml.v3"
)

type PageRef struct {
	URL     string `yaml:"url" json:"url"`
	Title   string `yaml:"title,omitempty" json:"title,omitempty"`
	Summary string `yaml:"summary,omitempty" json:"summary,omitempty"`
}

// UnmarshalYAML accepts either a bare URL string or a {url, title, summary} mapping.
func (p *PageRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		p.URL = strings.TrimSpace(node.Value)
		return nil
	}
	type plain PageRef
	var v plain
	if err := node.Decode(&v); err != nil {
		return err
	}
	*p = PageRef(v)
	p.URL = strings.TrimSpace(p.URL)
	return nil
}

// ClientProfile is read-only for the duration of a job. Older profile files
// may lack any of these fields; they decode as empty values.
type ClientProfile struct {
	ClientID           string    `yaml:"client_id" json:"client_id"`
	BusinessName       string    `yaml:"business_name" json:"business_name"`
	Domain             string    `yaml:"domain" json:"domain"`
	BusinessSummary    string    `yaml:"business_summary" json:"business_summary"`
	Audience           string    `yaml:"audience" json:"audience"`
	Tone               string    `yaml:"tone" json:"tone"`
	Services           []string  `yaml:"services" json:"services"`
	Locations          []string  `yaml:"locations" json:"locations"`
	Specialties        []string  `yaml:"specialties" json:"specialties"`
	Topics             []string  `yaml:"topics" json:"topics"`
	NegativeKeywords   []string  `yaml:"negative_keywords" json:"negative_keywords"`
	NegativeCategories []string  `yaml:"negative_categories" json:"negative_categories"`
	URLInventory       []PageRef `yaml:"url_inventory" json:"url_inventory"`
}

func (p ClientProfile) DisplayName() string {
	if p.BusinessName != "" {
		return p.BusinessName
	}
	if p.Domain != "" {
		return p.Domain
	}
	return p.ClientID
}

// HasURL reports whether url is in the inventory, ignoring scheme, "www." and trailing slashes.
func (p ClientProfile) HasURL(url string) (PageRef, bool) {
	want := NormalizeURL(url)
	if want == "" {
		return PageRef{}, false
	}
	for _, ref := range p.URLInventory {
		if NormalizeURL(ref.URL) == want {
			return ref, true
		}
	}
	return PageRef{}, false
}

func NormalizeURL(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	return strings.TrimRight(u, "/")
}
