package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"claimgate/internal/rules/expr"
	"claimgate/pkg/domain"
	dErrors "claimgate/pkg/domainerrors"
)

// Ruleset is an immutable, versioned set of rules frozen at activation time.
// A new file load produces a new Ruleset; an active one is never mutated.
type Ruleset struct {
	version  string
	checksum string
	loadedAt time.Time
	ordered  []RuleDefinition
}

func (rs *Ruleset) Version() string     { return rs.version }
func (rs *Ruleset) Checksum() string    { return rs.checksum }
func (rs *Ruleset) LoadedAt() time.Time { return rs.loadedAt }
func (rs *Ruleset) Len() int            { return len(rs.ordered) }

// Rules returns the rules in evaluation order: category rank (critical
// first), then declaration order within a category.
func (rs *Ruleset) Rules() []RuleDefinition {
	out := make([]RuleDefinition, len(rs.ordered))
	copy(out, rs.ordered)
	return out
}

// rulesetFile is the on-disk JSON shape.
type rulesetFile struct {
	Version string     `json:"version"`
	Rules   []ruleFile `json:"rules"`
}

type ruleFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Severity    string `json:"severity"`
	Expression  string `json:"expression"`
	FailMessage string `json:"fail_message"`
	TimeoutMS   int    `json:"timeout_ms"`
}

// LoadFile reads and activates a ruleset from a JSON file.
func LoadFile(path string, defaultTimeout time.Duration) (*Ruleset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "read ruleset file")
	}
	return Load(raw, defaultTimeout)
}

// Load parses, validates, compiles, and freezes a ruleset. Every expression
// is parsed once here; a rule that fails to parse fails the whole activation
// rather than surfacing later per claim.
func Load(raw []byte, defaultTimeout time.Duration) (*Ruleset, error) {
	var file rulesetFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "parse ruleset")
	}
	if file.Version == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "ruleset version is required")
	}
	if len(file.Rules) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "ruleset contains no rules")
	}
	if defaultTimeout <= 0 {
		defaultTimeout = expr.DefaultTimeout
	}

	seen := make(map[string]bool, len(file.Rules))
	defs := make([]RuleDefinition, 0, len(file.Rules))
	for i, rf := range file.Rules {
		if rf.ID == "" {
			return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("rule %d: id is required", i))
		}
		if seen[rf.ID] {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "duplicate rule id: "+rf.ID)
		}
		seen[rf.ID] = true

		category := Category(rf.Category)
		if !category.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("rule %s: unknown category %q", rf.ID, rf.Category))
		}
		severity := Severity(rf.Severity)
		if rf.Severity == "" {
			severity = SeverityMedium
		}
		if !severity.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("rule %s: unknown severity %q", rf.ID, rf.Severity))
		}

		program, err := expr.Parse(rf.Expression)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "rule "+rf.ID+": invalid expression")
		}

		timeout := defaultTimeout
		if rf.TimeoutMS > 0 {
			timeout = time.Duration(rf.TimeoutMS) * time.Millisecond
		}

		def := RuleDefinition{
			ID:          domain.RuleID(rf.ID),
			Name:        rf.Name,
			Category:    category,
			Severity:    severity,
			Expression:  rf.Expression,
			FailMessage: rf.FailMessage,
			Timeout:     timeout,
			Version:     file.Version,
			program:     program,
		}
		def.Checksum = ruleChecksum(def)
		defs = append(defs, def)
	}

	// Stable order: category rank first, file order within a category.
	sort.SliceStable(defs, func(i, j int) bool {
		return defs[i].Category.rank() < defs[j].Category.rank()
	})

	return &Ruleset{
		version:  file.Version,
		checksum: setChecksum(file.Version, defs),
		loadedAt: time.Now().UTC(),
		ordered:  defs,
	}, nil
}

// ruleChecksum fingerprints everything that affects a rule's behavior.
func ruleChecksum(def RuleDefinition) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s", def.ID, def.Category, def.Severity, def.Expression, def.Version)
	return hex.EncodeToString(h.Sum(nil))
}

func setChecksum(version string, defs []RuleDefinition) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00", version)
	for _, def := range defs {
		fmt.Fprintf(h, "%s\x00", def.Checksum)
	}
	return hex.EncodeToString(h.Sum(nil))
}
