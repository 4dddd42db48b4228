package resolve

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// EntityClassifier decides whether a primary name belongs to a legal entity.
type EntityClassifier interface {
	IsEntity(name string) bool
}

// DefaultEntityIndicators are the markers that flag a name as an LLC or
// corporation.
var DefaultEntityIndicators = []string{"LLC", "L.L.C.", "INC", "CORP", "LP", "L.P.", "LTD", "PLLC"}

// SubstringClassifier flags a name when it contains any indicator,
// case-insensitively. Matching is by substring, not by word, so
// "INCLUSIVE REALTY" is flagged through "INC".
type SubstringClassifier struct {
	indicators []string
}

// NewSubstringClassifier builds a classifier from indicators. An empty list
// falls back to DefaultEntityIndicators.
func NewSubstringClassifier(indicators []string) *SubstringClassifier {
	if len(indicators) == 0 {
		indicators = DefaultEntityIndicators
	}
	upper := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		if ind = strings.ToUpper(strings.TrimSpace(ind)); ind != "" {
			upper = append(upper, ind)
		}
	}
	return &SubstringClassifier{indicators: upper}
}

// IsEntity implements EntityClassifier.
func (c *SubstringClassifier) IsEntity(name string) bool {
	name = strings.ToUpper(name)
	for _, ind := range c.indicators {
		if strings.Contains(name, ind) {
			return true
		}
	}
	return false
}

// Indicators returns the upper-cased indicator list.
func (c *SubstringClassifier) Indicators() []string {
	return append([]string(nil), c.indicators...)
}

// classifierFile is the on-disk shape of a classifier override.
type classifierFile struct {
	EntityIndicators []string `yaml:"entity_indicators"`
}

// LoadClassifier reads an indicator list from a YAML file. An empty path
// returns the default classifier.
func LoadClassifier(path string) (*SubstringClassifier, error) {
	if path == "" {
		return NewSubstringClassifier(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: read classifier %s", path)
	}

	var f classifierFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "resolve: parse classifier")
	}
	if len(f.EntityIndicators) == 0 {
		return nil, eris.Errorf("resolve: classifier %s lists no entity_indicators", path)
	}
	return NewSubstringClassifier(f.EntityIndicators), nil
}
