// Package normalizer cleans the free-form bonus text of picto records.
//
// A normalizer is an ordered list of passes, each pass an ordered list of rules.
// The output of every rule feeds the next one.
package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/SergeiSkv/pictofix/models"
)

// Profile selects which rule sequence runs
type Profile string

const (
	// ProfileGlued is the first-generation cleanup: split glued values, fix spacing
	ProfileGlued Profile = "glued"
	// ProfileLabels is the second-generation cleanup with forced breaks after known labels
	ProfileLabels Profile = "labels"
	// ProfileComposed runs glued then labels, the state the dataset ends up in after both
	ProfileComposed Profile = "composed"
)

// Profiles lists the accepted profile names
func Profiles() []Profile {
	return []Profile{ProfileGlued, ProfileLabels, ProfileComposed}
}

// ParseProfile resolves a profile name; empty means ProfileComposed
func ParseProfile(name string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return ProfileComposed, nil
	case ProfileGlued, ProfileLabels, ProfileComposed:
		return p, nil
	default:
		return "", fmt.Errorf("unknown profile %q (want one of %v)", name, Profiles())
	}
}

// Options configures a Normalizer
type Options struct {
	Profile       Profile
	NFC           bool
	Labels        []string
	PercentLabels []string
	Disabled      []models.RuleID
}

// DefaultOptions returns the composed profile with NFC and the built-in labels
func DefaultOptions() Options {
	return Options{
		Profile:       ProfileComposed,
		NFC:           true,
		Labels:        slices.Clone(DefaultLabels),
		PercentLabels: slices.Clone(DefaultPercentLabels),
	}
}

// Normalizer applies the bonus text rules. It is immutable and safe for concurrent use.
type Normalizer struct {
	profile     Profile
	nfc         Rule
	passes      [][]Rule
	fingerprint string
}

var defaultNormalizer = mustNew(DefaultOptions())

func mustNew(opts Options) *Normalizer {
	n, err := New(opts)
	if err != nil {
		panic(err)
	}
	return n
}

// Default returns the normalizer built from DefaultOptions
func Default() *Normalizer {
	return defaultNormalizer
}

// Normalize cleans text with the default normalizer
func Normalize(text string) string {
	return defaultNormalizer.Normalize(text)
}

// New builds a normalizer for the given options
func New(opts Options) (*Normalizer, error) {
	profile, err := ParseProfile(string(opts.Profile))
	if err != nil {
		return nil, err
	}

	disabled := make(map[models.RuleID]bool, len(opts.Disabled))
	for _, id := range opts.Disabled {
		if id >= models.RuleIDMax {
			return nil, fmt.Errorf("unknown rule id %d", id)
		}
		disabled[id] = true
	}
	keep := func(rules ...Rule) []Rule {
		out := make([]Rule, 0, len(rules))
		for _, r := range rules {
			if !disabled[r.ID()] {
				out = append(out, r)
			}
		}
		return out
	}

	n := &Normalizer{profile: profile}
	if opts.NFC && !disabled[models.RuleUnicodeNFC] {
		n.nfc = newNFCRule()
	}

	switch profile {
	case ProfileGlued:
		n.passes = [][]Rule{keep(gluedPass()...)}
	case ProfileLabels:
		n.passes = [][]Rule{keep(labelsPass(opts.Labels, opts.PercentLabels)...)}
	case ProfileComposed:
		n.passes = [][]Rule{
			keep(gluedPass()...),
			keep(labelsPass(opts.Labels, opts.PercentLabels)...),
		}
	}
	n.fingerprint = fingerprint(profile, n.Passes(), opts.Labels, opts.PercentLabels)
	return n, nil
}

// fingerprint hashes everything that decides the output of a normalizer
func fingerprint(profile Profile, passes [][]models.RuleID, labels, percentLabels []string) string {
	var sb strings.Builder
	sb.WriteString(string(profile))
	for _, pass := range passes {
		sb.WriteByte('|')
		for _, id := range pass {
			sb.WriteString(id.String())
			sb.WriteByte(',')
		}
	}
	for _, group := range [][]string{labels, percentLabels} {
		sb.WriteByte('|')
		for _, label := range group {
			sb.WriteString(label)
			sb.WriteByte(0)
		}
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:8])
}

// gluedPass: split, spacing, percent, decimal, cleanup
func gluedPass() []Rule {
	return []Rule{
		newSplitGluedRule(),
		newWordNumberSpacingRule(),
		newPercentSpacingRule(),
		newDecimalSpacingRule(),
		newCollapseNewlinesRule(),
		newCollapseSpacesRule(),
		newTrimRule(),
	}
}

// labelsPass runs spacing before the split, then forces breaks after known labels
func labelsPass(labels, percentLabels []string) []Rule {
	return []Rule{
		newWordNumberSpacingRule(),
		newSplitGluedRule(),
		newPercentSpacingRule(),
		newLabelBreaksRule(labels, percentLabels),
		newCollapseNewlinesRule(),
		newCollapseSpacesRule(),
		newTrimRule(),
	}
}

// Profile returns the profile the normalizer was built with
func (n *Normalizer) Profile() Profile {
	return n.profile
}

// Fingerprint identifies the rule set. Two normalizers with the same
// fingerprint produce the same output.
func (n *Normalizer) Fingerprint() string {
	return n.fingerprint
}

// Passes returns the rule ids of each pass, in application order
func (n *Normalizer) Passes() [][]models.RuleID {
	out := make([][]models.RuleID, 0, len(n.passes))
	for _, pass := range n.passes {
		ids := make([]models.RuleID, 0, len(pass)+1)
		if n.nfc != nil {
			ids = append(ids, n.nfc.ID())
		}
		for _, r := range pass {
			ids = append(ids, r.ID())
		}
		out = append(out, ids)
	}
	return out
}

// Normalize returns the cleaned text
func (n *Normalizer) Normalize(text string) string {
	out, _ := n.run(text, false)
	return out
}

// Trace returns the cleaned text and the ids of the rules that changed it, each listed once
func (n *Normalizer) Trace(text string) (string, []models.RuleID) {
	return n.run(text, true)
}

func (n *Normalizer) run(text string, trace bool) (string, []models.RuleID) {
	var applied []models.RuleID
	apply := func(r Rule) {
		out := r.Apply(text)
		if trace && out != text && !slices.Contains(applied, r.ID()) {
			applied = append(applied, r.ID())
		}
		text = out
	}

	for _, pass := range n.passes {
		if n.nfc != nil {
			apply(n.nfc)
		}
		for _, r := range pass {
			apply(r)
		}
	}
	return text, applied
}
