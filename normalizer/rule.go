package normalizer

import (
	"regexp"

	"github.com/SergeiSkv/pictofix/models"
)

// Rule is one rewrite step of the bonus text pipeline
type Rule interface {
	ID() models.RuleID
	Apply(text string) string
}

// regexRule replaces every match of pattern with a regexp template
type regexRule struct {
	id      models.RuleID
	pattern *regexp.Regexp
	repl    string
}

func (r *regexRule) ID() models.RuleID { return r.id }

func (r *regexRule) Apply(text string) string {
	return r.pattern.ReplaceAllString(text, r.repl)
}

// chainRule applies several rules in sequence under a single rule id
type chainRule struct {
	id    models.RuleID
	steps []Rule
}

func (r *chainRule) ID() models.RuleID { return r.id }

func (r *chainRule) Apply(text string) string {
	for _, step := range r.steps {
		text = step.Apply(text)
	}
	return text
}

// funcRule wraps a plain string function
type funcRule struct {
	id models.RuleID
	fn func(string) string
}

func (r *funcRule) ID() models.RuleID { return r.id }

func (r *funcRule) Apply(text string) string {
	return r.fn(text)
}
