package label

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// maxRepeat is the largest repetition count accepted by regexp/syntax
const maxRepeat = 1000

// Rule describes how one field is found in label text and what a clean value looks like.
// Keywords, Value and Allowed are regular expression fragments: Keywords are
// alternatives for the printed label keyword, Value and Allowed are bodies of
// a character class (without the surrounding brackets).
type Rule struct {
	Key       FieldKey `yaml:"key"`
	Keywords  []string `yaml:"keywords"`
	Value     string   `yaml:"value"`
	MaxLength int      `yaml:"max_length"`
	Allowed   string   `yaml:"allowed"`
	Format    string   `yaml:"format"`
	Message   string   `yaml:"message"`
	Required  bool     `yaml:"required"`
	Uppercase bool     `yaml:"uppercase"`
}

type compiledRule struct {
	Rule
	labelled *regexp.Regexp // Keyword followed by a separator
	pattern  *regexp.Regexp // Separator optional
	strip    *regexp.Regexp
	format  *regexp.Regexp
}

// RuleSet is a compiled, ordered rule table shared by the extractor and the validator
type RuleSet struct {
	rules []*compiledRule
	byKey map[FieldKey]*compiledRule

	boundary     *regexp.Regexp // A keyword and its separator
	bareBoundary *regexp.Regexp // A keyword on its own
}

const codedChars = `A-Za-z0-9\-/. `

// DefaultRuleTable returns the built-in SIRIM label rules
func DefaultRuleTable() []Rule {
	return []Rule{
		{
			Key:       SerialNumber,
			Keywords:  []string{`(?:SIRIM\s+)?Serial\s*(?:Number|No\.?|#)?`},
			Value:     `A-Za-z0-9\-/.`,
			MaxLength: 20,
			Allowed:   codedChars,
			Format:    `^[A-Za-z0-9]{4,12}$`,
			Message:   "Serial number must be 4 to 12 letters or digits",
			Required:  true,
			Uppercase: true,
		},
		{
			Key:       BatchNumber,
			Keywords:  []string{`Batch\s*(?:Number|No\.?)?`},
			Value:     `A-Za-z0-9\-/.`,
			MaxLength: 40,
			Allowed:   codedChars,
		},
		{
			Key:       Brand,
			Keywords:  []string{`Brand\s*/?\s*Trade\s*mark`, `Trade\s*mark`, `Brand`},
			Value:     `\p{L}\p{N} &'.,()/+\-`,
			MaxLength: 80,
			Allowed:   `\p{L}\p{N} &'.,()/+\-`,
		},
		{
			Key:       Model,
			Keywords:  []string{`Model\s*(?:Number|No\.?)?`},
			Value:     codedChars,
			MaxLength: 60,
			Allowed:   codedChars,
		},
		{
			Key:       Type,
			Keywords:  []string{`Type`},
			Value:     codedChars,
			MaxLength: 60,
			Allowed:   codedChars,
		},
		{
			Key:       Rating,
			Keywords:  []string{`Rating`},
			Value:     codedChars + `~`,
			MaxLength: 30,
			Allowed:   codedChars + `~`,
		},
		{
			Key:       Size,
			Keywords:  []string{`Size`},
			Value:     codedChars,
			MaxLength: 30,
			Allowed:   codedChars,
		},
	}
}

// DefaultRules returns the compiled built-in rule set
func DefaultRules() *RuleSet {
	rs, err := NewRuleSet(DefaultRuleTable())
	if err != nil {
		panic(fmt.Sprintf("default label rules: %v", err))
	}
	return rs
}

// LoadRules reads a YAML rule table from disk
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules compiles a YAML rule table of the form `rules: [...]`
func ParseRules(data []byte) (*RuleSet, error) {
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	return NewRuleSet(doc.Rules)
}

// NewRuleSet validates and compiles rules, keeping their order
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("at least one rule is required")
	}

	rs := &RuleSet{byKey: make(map[FieldKey]*compiledRule, len(rules))}
	var keywords []string
	for i, r := range rules {
		if r.Key == "" {
			return nil, fmt.Errorf("rule %d: key is required", i)
		}
		if _, dup := rs.byKey[r.Key]; dup {
			return nil, fmt.Errorf("rule %s: duplicate key", r.Key)
		}
		if len(r.Keywords) == 0 {
			return nil, fmt.Errorf("rule %s: at least one keyword is required", r.Key)
		}
		if r.Value == "" {
			return nil, fmt.Errorf("rule %s: value class is required", r.Key)
		}
		if r.MaxLength <= 0 || r.MaxLength > maxRepeat {
			return nil, fmt.Errorf("rule %s: max_length must be between 1 and %d", r.Key, maxRepeat)
		}
		if r.Allowed == "" {
			r.Allowed = r.Value
		}

		c, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Key, err)
		}
		rs.rules = append(rs.rules, c)
		rs.byKey[r.Key] = c
		keywords = append(keywords, r.Keywords...)
	}

	alternatives := `(?i)\b(?:` + strings.Join(keywords, "|") + `)`
	boundary, err := regexp.Compile(alternatives + `\s*[:：]`)
	if err != nil {
		return nil, fmt.Errorf("compiling keyword boundary: %w", err)
	}
	bareBoundary, err := regexp.Compile(alternatives + `\b`)
	if err != nil {
		return nil, fmt.Errorf("compiling keyword boundary: %w", err)
	}
	rs.boundary = boundary
	rs.bareBoundary = bareBoundary
	return rs, nil
}

func compileRule(r Rule) (*compiledRule, error) {
	keyword := `(?i)\b(?:` + strings.Join(r.Keywords, "|") + `)`
	value := `\s*([` + r.Value + `]{1,` + strconv.Itoa(r.MaxLength) + `})`
	labelled, err := regexp.Compile(keyword + `\s*[:：]` + value)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern: %w", err)
	}
	pattern, err := regexp.Compile(keyword + `\s*[:：]?` + value)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern: %w", err)
	}
	strip, err := regexp.Compile(`[^` + r.Allowed + `]`)
	if err != nil {
		return nil, fmt.Errorf("compiling allowed characters: %w", err)
	}
	c := &compiledRule{Rule: r, labelled: labelled, pattern: pattern, strip: strip}
	if r.Format != "" {
		if c.format, err = regexp.Compile(r.Format); err != nil {
			return nil, fmt.Errorf("compiling format: %w", err)
		}
	}
	return c, nil
}

// Keys returns the rule keys in table order
func (rs *RuleSet) Keys() []FieldKey {
	keys := make([]FieldKey, len(rs.rules))
	for i, r := range rs.rules {
		keys[i] = r.Key
	}
	return keys
}

// Required returns the keys a record cannot be saved without
func (rs *RuleSet) Required() []FieldKey {
	var keys []FieldKey
	for _, r := range rs.rules {
		if r.Required {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

// Rule returns the rule for key
func (rs *RuleSet) Rule(key FieldKey) (Rule, bool) {
	c, ok := rs.byKey[key]
	if !ok {
		return Rule{}, false
	}
	return c.Rule, true
}

// cutAtKeyword trims the value captured at text[start:end] where the next
// field begins. Normalised labels read as a single line, so a greedy capture
// can run into the next field. A keyword only ends a value when followed by
// its separator, unless the text has no separators at all.
func (rs *RuleSet) cutAtKeyword(text string, start, end int, bare bool) string {
	value := text[start:end]
	if loc := rs.boundary.FindStringIndex(text[start:]); loc != nil && loc[0] < len(value) {
		value = value[:loc[0]]
	} else if bare {
		if loc := rs.bareBoundary.FindStringIndex(value); loc != nil {
			value = value[:loc[0]]
		}
	}
	return strings.TrimSpace(value)
}
