package models

import (
	"fmt"
	"strings"
)

// RuleID identifies a single bonus text rewrite rule
type RuleID uint8

const (
	RuleUnicodeNFC RuleID = iota
	RuleSplitGlued
	RuleWordNumberSpacing
	RulePercentSpacing
	RuleDecimalSpacing
	RuleLabelBreaks
	RuleCollapseNewlines
	RuleCollapseSpaces
	RuleTrim
	RuleIDMax
)

var ruleNames = [RuleIDMax]string{
	RuleUnicodeNFC:        "unicode-nfc",
	RuleSplitGlued:        "split-glued",
	RuleWordNumberSpacing: "word-number-spacing",
	RulePercentSpacing:    "percent-spacing",
	RuleDecimalSpacing:    "decimal-spacing",
	RuleLabelBreaks:       "label-breaks",
	RuleCollapseNewlines:  "collapse-newlines",
	RuleCollapseSpaces:    "collapse-spaces",
	RuleTrim:              "trim",
}

var ruleDescriptions = [RuleIDMax]string{
	RuleUnicodeNFC:        "Compose accented characters (NFC) so labels match",
	RuleSplitGlued:        "Split glued bonus values (Défense 50100% -> Défense 50\\n100%)",
	RuleWordNumberSpacing: "Single space between a word and the number after it",
	RulePercentSpacing:    "Space before percent signs (100% -> 100 %)",
	RuleDecimalSpacing:    "Space before points following a number (12.5 -> 12 .5)",
	RuleLabelBreaks:       "Line break after known stat labels (Défense, Vitesse, Santé, ...)",
	RuleCollapseNewlines:  "Collapse repeated line breaks",
	RuleCollapseSpaces:    "Collapse repeated spaces",
	RuleTrim:              "Trim leading and trailing whitespace",
}

// AllRules returns every rule id in declaration order
func AllRules() []RuleID {
	ids := make([]RuleID, 0, RuleIDMax)
	for i := RuleID(0); i < RuleIDMax; i++ {
		ids = append(ids, i)
	}
	return ids
}

func (r RuleID) String() string {
	if r < RuleIDMax {
		return ruleNames[r]
	}
	return fmt.Sprintf("RuleID(%d)", r)
}

// Description returns a human readable summary of what the rule corrects
func (r RuleID) Description() string {
	if r < RuleIDMax {
		return ruleDescriptions[r]
	}
	return ""
}

// ParseRuleID resolves a rule name, case-insensitive, underscores allowed
func ParseRuleID(name string) (RuleID, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "_", "-")
	for i, n := range ruleNames {
		if n == key {
			return RuleID(i), nil
		}
	}
	return RuleIDMax, fmt.Errorf("unknown rule %q", name)
}

func (r RuleID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RuleID) UnmarshalText(text []byte) error {
	id, err := ParseRuleID(string(text))
	if err != nil {
		return err
	}
	*r = id
	return nil
}
