package router

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Rule is a declarative processor mapping, loadable from configuration.
type Rule struct {
	Source    string   `yaml:"source" json:"source"`
	Processor string   `yaml:"processor" json:"processor"`
	Next      string   `yaml:"next,omitempty" json:"next,omitempty"`
	Keywords  []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	// Pattern is an optional regex matched against the content text.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// Mapping compiles the rule into a ProcessorMapping. A rule without
// keywords or pattern matches everything.
func (r Rule) Mapping() (ProcessorMapping, error) {
	m := ProcessorMapping{ProcessorName: r.Processor, Next: r.Next}
	if r.Processor == "" {
		return m, fmt.Errorf("rule for %q has no processor", r.Source)
	}
	if len(r.Keywords) == 0 && r.Pattern == "" {
		return m, nil
	}

	var re *regexp.Regexp
	if r.Pattern != "" {
		compiled, err := regexp.Compile(r.Pattern)
		if err != nil {
			return m, fmt.Errorf("rule for %q: invalid pattern: %w", r.Source, err)
		}
		re = compiled
	}
	keywords := make([]string, 0, len(r.Keywords))
	for _, k := range r.Keywords {
		keywords = append(keywords, strings.ToLower(k))
	}

	m.Filter = func(content any) bool {
		text := strings.ToLower(contentText(content))
		if re != nil && re.MatchString(text) {
			return true
		}
		for _, k := range keywords {
			if containsWord(text, k) {
				return true
			}
		}
		return false
	}
	return m, nil
}

// ApplyRules appends each rule's mapping to its source handler.
func (r *Router) ApplyRules(rules []Rule) error {
	for _, rule := range rules {
		m, err := rule.Mapping()
		if err != nil {
			return err
		}
		if err := r.AddProcessor(rule.Source, m); err != nil {
			return err
		}
	}
	return nil
}

// containsWord checks if text contains keyword as a whole word.
func containsWord(text, keyword string) bool {
	// multi-word keywords use plain containment
	if strings.Contains(keyword, " ") {
		return strings.Contains(text, keyword)
	}
	for _, word := range strings.Fields(text) {
		if strings.Trim(word, ".,;:!?\"'()[]{}") == keyword {
			return true
		}
	}
	return false
}

func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	b, err := json.Marshal(content)
	if err != nil {
		return fmt.Sprint(content)
	}
	return string(b)
}
