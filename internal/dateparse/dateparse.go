// Package dateparse wraps olebedev/when for natural-language parsing of
// task temporal fields (deadline, scheduledFor, deferUntil) before they
// are stored as timestamps, e.g. "next Tuesday" or "in 3 days".
package dateparse

import (
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Parser is a configured natural-language date parser. Construct once
// and share; the underlying rule set is read-only after New.
type Parser struct {
	w *when.Parser
}

// New builds a Parser with the combined English + common rule sets,
// enough to cover the usual "next tuesday" / "in 3 days" forms.
func New() *Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{w: w}
}

// Parse resolves text to an absolute time relative to base ("now" in
// production, fixed in tests for determinism). ok is false when no
// temporal expression was recognized in text.
func (p *Parser) Parse(text string, base time.Time) (t time.Time, ok bool, err error) {
	r, err := p.w.Parse(text, base)
	if err != nil {
		return time.Time{}, false, err
	}
	if r == nil {
		return time.Time{}, false, nil
	}
	return r.Time, true, nil
}
