package sms

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Template names shipped in the embedded catalog.
const (
	TemplateYotiSignRequest            = "yoti_sign_request"
	TemplateAgreementSignRequestSeller = "agreement_sign_request_seller"
	TemplateAgreementSignRequestBuyer  = "agreement_sign_request_buyer"
	TemplateTitleTransferred           = "title_transferred"
)

//go:embed templates.yaml
var defaultCatalog []byte

// Template is a named, versioned message with positional placeholders
// %0 through %9.
type Template struct {
	Name    string `yaml:"name"`
	Version int    `yaml:"version"`
	Text    string `yaml:"text"`
}

// Catalog holds the known templates keyed by name.
type Catalog struct {
	templates map[string]Template
}

// ParseCatalog reads a YAML document of the form {templates: [...]}.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Templates []Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}

	c := &Catalog{templates: make(map[string]Template, len(doc.Templates))}
	for _, t := range doc.Templates {
		if t.Name == "" {
			return nil, fmt.Errorf("template catalog: template without a name")
		}
		if existing, ok := c.templates[t.Name]; ok && existing.Version >= t.Version {
			continue
		}
		c.templates[t.Name] = t
	}
	return c, nil
}

// DefaultCatalog returns the embedded catalog. It panics if the embedded
// file is malformed, which is a build defect.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the latest version of the named template.
func (c *Catalog) Get(name string) (Template, bool) {
	t, ok := c.templates[name]
	return t, ok
}

// MustGet is like Get but panics on an unknown name.
func (c *Catalog) MustGet(name string) Template {
	t, ok := c.Get(name)
	if !ok {
		panic(fmt.Sprintf("unknown SMS template %q", name))
	}
	return t
}

// Names lists the template names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var placeholderPattern = regexp.MustCompile(`%([0-9])`)

// Resolve substitutes %d markers with infills[d]. Markers without a
// matching infill are left in place so the gap shows up in the message.
// In trial mode a leading newline separates the provider's own preamble.
func Resolve(t Template, trial bool, infills ...string) string {
	body := placeholderPattern.ReplaceAllStringFunc(t.Text, func(marker string) string {
		index, _ := strconv.Atoi(marker[1:])
		if index < len(infills) {
			return infills[index]
		}
		return marker
	})
	if trial {
		return "\n" + body
	}
	return body
}
