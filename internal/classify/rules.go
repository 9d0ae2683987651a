package classify

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nitesh/incident_map/pkg/models"
	"gopkg.in/yaml.v3"
)

// Unknown is the reserved source id returned when no rule matches.
const Unknown = "unknown"

//go:embed default_rules.yaml
var defaultRules []byte

// Category is the kind of source a rule identifies.
type Category string

const (
	CategoryMedia        Category = "media"
	CategoryOSINT        Category = "osint"
	CategoryVerification Category = "verification"
	CategorySafety       Category = "safety"
)

func (c Category) valid() bool {
	switch c {
	case CategoryMedia, CategoryOSINT, CategoryVerification, CategorySafety:
		return true
	}
	return false
}

// UnmarshalYAML rejects categories outside the fixed enumeration.
func (c *Category) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	in := Category(strings.ToLower(strings.TrimSpace(s)))
	if !in.valid() {
		return fmt.Errorf("invalid value for category: %q", s)
	}
	*c = in
	return nil
}

// Tier is an evaluation stage. Lower tiers are evaluated first.
type Tier int

const (
	TierChannels Tier = iota
	TierIntel
	TierPlatforms
	numTiers
)

func (t Tier) String() string {
	switch t {
	case TierChannels:
		return "channels"
	case TierIntel:
		return "intel"
	case TierPlatforms:
		return "platforms"
	}
	return "unknown"
}

// Rule maps a set of lowercase substrings to a source id. A rule with no
// patterns never matches.
type Rule struct {
	ID       string   `yaml:"id"`
	Category Category `yaml:"category"`
	Enabled  bool     `yaml:"-"`
	Patterns []string `yaml:"patterns"`
}

// ruleEntry is the on-disk shape; enabled defaults to true when omitted.
type ruleEntry struct {
	ID       string   `yaml:"id"`
	Category Category `yaml:"category"`
	Enabled  *bool    `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

type ruleFile struct {
	Channels  ruleEntries `yaml:"channels"`
	Intel     ruleEntries `yaml:"intel"`
	Platforms ruleEntries `yaml:"platforms"`
}

// RuleSet is a validated, immutable rule table.
type RuleSet struct {
	tiers [numTiers][]Rule
}

// NewRuleSet validates the three tiers and returns a RuleSet holding its own
// copy of the rules with lowercased patterns.
func NewRuleSet(channels, intel, platforms []Rule) (*RuleSet, error) {
	rs := &RuleSet{}
	seen := make(map[string]Tier)
	patternTier := make(map[string]Tier)

	for t, rules := range [numTiers][]Rule{channels, intel, platforms} {
		tier := Tier(t)
		for _, r := range rules {
			id := strings.TrimSpace(r.ID)
			if id == "" {
				return nil, models.InvalidRuleSet("", "%s tier: rule with empty id", tier)
			}
			if id == Unknown {
				return nil, models.InvalidRuleSet(id, "id is reserved")
			}
			if prev, ok := seen[id]; ok {
				if prev != tier {
					return nil, models.InvalidRuleSet(id, "rule appears in both %s and %s tiers", prev, tier)
				}
				return nil, models.InvalidRuleSet(id, "duplicate id in %s tier", tier)
			}
			seen[id] = tier
			if !r.Category.valid() {
				return nil, models.InvalidRuleSet(id, "invalid category %q", r.Category)
			}

			patterns := make([]string, 0, len(r.Patterns))
			for _, p := range r.Patterns {
				if strings.TrimSpace(p) == "" {
					return nil, models.InvalidRuleSet(id, "empty pattern")
				}
				p = strings.ToLower(p)
				if other, ok := patternTier[p]; ok && other != tier {
					return nil, models.InvalidRuleSet(id, "pattern %q collides with a rule in the %s tier", p, other)
				}
				patternTier[p] = tier
				patterns = append(patterns, p)
			}
			rs.tiers[tier] = append(rs.tiers[tier], Rule{
				ID:       id,
				Category: r.Category,
				Enabled:  r.Enabled,
				Patterns: patterns,
			})
		}
	}
	return rs, nil
}

// ParseRuleSet decodes a YAML rule table. Unknown keys are rejected.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var f ruleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, models.InvalidRuleSet("", "parse rule table: %v", err)
	}
	return NewRuleSet(f.Channels.rules(), f.Intel.rules(), f.Platforms.rules())
}

// LoadRuleSet reads and parses a YAML rule table from disk.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table %s: %w", path, err)
	}
	return ParseRuleSet(data)
}

// DefaultRuleSet returns the rule table compiled into the binary.
func DefaultRuleSet() (*RuleSet, error) {
	return ParseRuleSet(defaultRules)
}

// LoadConfigured returns the table at path, or the embedded default when path
// is empty, with the listed rule ids switched off.
func LoadConfigured(path string, disabled []string) (*RuleSet, error) {
	var (
		rs  *RuleSet
		err error
	)
	if path != "" {
		rs, err = LoadRuleSet(path)
	} else {
		rs, err = DefaultRuleSet()
	}
	if err != nil || len(disabled) == 0 {
		return rs, err
	}
	return rs.WithEnabled(false, disabled...)
}

type ruleEntries []ruleEntry

func (es ruleEntries) rules() []Rule {
	out := make([]Rule, 0, len(es))
	for _, e := range es {
		enabled := true
		if e.Enabled != nil {
			enabled = *e.Enabled
		}
		out = append(out, Rule{ID: e.ID, Category: e.Category, Enabled: enabled, Patterns: e.Patterns})
	}
	return out
}

// Rules returns a copy of the rules in tier t, in evaluation order.
func (rs *RuleSet) Rules(t Tier) []Rule {
	if t < 0 || t >= numTiers {
		return nil
	}
	out := make([]Rule, len(rs.tiers[t]))
	for i, r := range rs.tiers[t] {
		r.Patterns = append([]string(nil), r.Patterns...)
		out[i] = r
	}
	return out
}

// Len is the total number of rules across tiers.
func (rs *RuleSet) Len() int {
	n := 0
	for _, rules := range rs.tiers {
		n += len(rules)
	}
	return n
}

// Lookup returns the rule with the given id and its tier.
func (rs *RuleSet) Lookup(id string) (Rule, Tier, bool) {
	for t, rules := range rs.tiers {
		for _, r := range rules {
			if r.ID == id {
				return r, Tier(t), true
			}
		}
	}
	return Rule{}, 0, false
}

// WithEnabled returns a copy of rs with the named rules switched on or off.
// Unknown ids are an InvalidRuleSet error.
func (rs *RuleSet) WithEnabled(enabled bool, ids ...string) (*RuleSet, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, _, ok := rs.Lookup(id); !ok {
			return nil, models.InvalidRuleSet(id, "no such rule")
		}
		want[id] = true
	}
	out := &RuleSet{}
	for t := range rs.tiers {
		out.tiers[t] = rs.Rules(Tier(t))
		for i := range out.tiers[t] {
			if want[out.tiers[t][i].ID] {
				out.tiers[t][i].Enabled = enabled
			}
		}
	}
	return out, nil
}
