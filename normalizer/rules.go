package normalizer

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/SergeiSkv/pictofix/models"
)

// Word characters are Unicode letters, digits and underscore: RE2's \w is ASCII only
// and would not match labels such as "Défense".
const wordClass = `[\p{L}\p{N}_]`

// Horizontal whitespace only. Line breaks produced by split-glued must survive.
const hspaceClass = `[ \t\x{00A0}\x{202F}]`

var (
	gluedPattern      = regexp.MustCompile(wordClass + `+ (\d+)%`)
	wordNumberPattern = regexp.MustCompile(`(` + wordClass + `+)` + hspaceClass + `+(\d+)`)
	percentPattern    = regexp.MustCompile(`(\d+)%`)
	decimalPattern    = regexp.MustCompile(`(\d+)\.`)
	newlinesPattern   = regexp.MustCompile(`\n+`)
	spacesPattern     = regexp.MustCompile(` +`)
)

// DefaultLabels are stat names followed by a bare number
var DefaultLabels = []string{"Défense", "Vitesse", "Santé"}

// DefaultPercentLabels are stat names followed by a number and a spaced percent sign
var DefaultPercentLabels = []string{"Chances de critique"}

func newNFCRule() Rule {
	return &funcRule{id: models.RuleUnicodeNFC, fn: norm.NFC.String}
}

func newSplitGluedRule() Rule {
	return &funcRule{id: models.RuleSplitGlued, fn: splitGlued}
}

func newWordNumberSpacingRule() Rule {
	return &regexRule{id: models.RuleWordNumberSpacing, pattern: wordNumberPattern, repl: "${1} ${2}"}
}

func newPercentSpacingRule() Rule {
	return &regexRule{id: models.RulePercentSpacing, pattern: percentPattern, repl: "${1} %"}
}

// The decimal rule also splits ordinary decimals ("12.5" -> "12 .5"). The dataset
// was published with that output, so it is kept as is and can be disabled in config.
func newDecimalSpacingRule() Rule {
	return &regexRule{id: models.RuleDecimalSpacing, pattern: decimalPattern, repl: "${1} ."}
}

func newLabelBreaksRule(labels, percentLabels []string) Rule {
	steps := make([]Rule, 0, len(labels)+len(percentLabels))
	for _, label := range labels {
		steps = append(steps, labelStep(label, `\d+(?: ?%)?`))
	}
	for _, label := range percentLabels {
		steps = append(steps, labelStep(label, `\d+ %`))
	}
	return &chainRule{id: models.RuleLabelBreaks, steps: steps}
}

// labelStep inserts a line break after "<label> <value>". A percent sign
// following the number stays on the label's line.
func labelStep(label, value string) Rule {
	// Labels are composed the same way the input is
	quoted := regexp.QuoteMeta(norm.NFC.String(label))
	pattern := regexp.MustCompile(quoted + ` ` + value)
	return &funcRule{
		id: models.RuleLabelBreaks,
		fn: func(text string) string {
			return breakAfter(pattern, text)
		},
	}
}

func breakAfter(pattern *regexp.Regexp, text string) string {
	matches := pattern.FindAllStringIndex(text, -1)
	if matches == nil {
		return text
	}

	var sb strings.Builder
	sb.Grow(len(text) + len(matches))
	last := 0
	for _, m := range matches {
		sb.WriteString(text[last:m[1]])
		sb.WriteByte('\n')
		last = m[1]
	}
	sb.WriteString(text[last:])
	return sb.String()
}

func newCollapseNewlinesRule() Rule {
	return &regexRule{id: models.RuleCollapseNewlines, pattern: newlinesPattern, repl: "\n"}
}

func newCollapseSpacesRule() Rule {
	return &regexRule{id: models.RuleCollapseSpaces, pattern: spacesPattern, repl: " "}
}

func newTrimRule() Rule {
	return &funcRule{id: models.RuleTrim, fn: strings.TrimSpace}
}

// splitGlued breaks "<word> <digits>%" where the digit run holds two values,
// e.g. "Défense 50100%" -> "Défense 50\n100%".
func splitGlued(text string) string {
	matches := gluedPattern.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text
	}

	var sb strings.Builder
	sb.Grow(len(text) + len(matches))
	last := 0
	for _, m := range matches {
		start, end := m[2], m[3]
		head, tail, ok := splitPercentRun(text[start:end])
		if !ok {
			continue
		}
		sb.WriteString(text[last:start])
		sb.WriteString(head)
		sb.WriteByte('\n')
		sb.WriteString(tail)
		last = end
	}
	sb.WriteString(text[last:])
	return sb.String()
}

const (
	minGluedPart  = 2
	maxPercentage = 100
)

// splitPercentRun picks the split point of a glued digit run: the trailing
// percentage is the longest suffix without a leading zero whose value is at
// most 100, and both parts keep at least two digits.
func splitPercentRun(digits string) (head, tail string, ok bool) {
	for i := minGluedPart; i <= len(digits)-minGluedPart; i++ {
		suffix := digits[i:]
		if suffix[0] == '0' {
			continue
		}
		value, err := strconv.Atoi(suffix)
		if err != nil || value > maxPercentage {
			continue
		}
		return digits[:i], suffix, true
	}
	return "", "", false
}
