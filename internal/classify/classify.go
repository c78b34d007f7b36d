// Package classify decides which known layout an HTML table uses by looking
// at its header text.
package classify

import "strings"

// Shape is a recognized table layout.
type Shape string

// Known table shapes.
const (
	ShapeSummary      Shape = "SUMMARY"
	ShapeDetailed     Shape = "DETAILED"
	ShapeRankings     Shape = "RANKINGS"
	ShapeUnrecognized Shape = "UNRECOGNIZED"
)

// Rule selects Shape when Match accepts the lower-cased, space-joined headers.
type Rule struct {
	Shape Shape
	Match func(headerText string) bool
}

var (
	summaryRule  = Rule{Shape: ShapeSummary, Match: allOf("hrn", "horse", "sire")}
	detailedRule = Rule{Shape: ShapeDetailed, Match: either(allOf("horse (last)"), allOf("trainer", "jockey"))}
	rankingsRule = Rule{Shape: ShapeRankings, Match: anyOf("rank", "horse", "power", "rating")}
)

// Classifier tests rules in order and returns the first match.
type Classifier struct {
	rules []Rule
}

// New builds a classifier. Earlier rules win.
func New(rules ...Rule) Classifier {
	return Classifier{rules: append([]Rule(nil), rules...)}
}

var (
	// Default knows every shape. Summary is tested before detailed, detailed
	// before rankings.
	Default = New(summaryRule, detailedRule, rankingsRule)
	// Entries is used on race entry and result pages, where a bare "horse"
	// header must not be mistaken for a rankings table.
	Entries = New(summaryRule, detailedRule)
	// Rankings is used on power ranking pages.
	Rankings = New(rankingsRule)
)

// Classify returns the shape for headers using the Default rules.
func Classify(headers []string) Shape {
	return Default.Classify(headers)
}

// Classify returns the first matching shape, or ShapeUnrecognized.
func (c Classifier) Classify(headers []string) Shape {
	text := HeaderText(headers)
	if text == "" {
		return ShapeUnrecognized
	}
	for _, rule := range c.rules {
		if rule.Match(text) {
			return rule.Shape
		}
	}
	return ShapeUnrecognized
}

// HeaderText lower-cases and joins the non-blank headers with single spaces.
func HeaderText(headers []string) string {
	parts := make([]string, 0, len(headers))
	for _, h := range headers {
		h = strings.Join(strings.Fields(h), " ")
		if h != "" {
			parts = append(parts, strings.ToLower(h))
		}
	}
	return strings.Join(parts, " ")
}

func allOf(keywords ...string) func(string) bool {
	return func(text string) bool {
		for _, kw := range keywords {
			if !strings.Contains(text, kw) {
				return false
			}
		}
		return true
	}
}

func anyOf(keywords ...string) func(string) bool {
	return func(text string) bool {
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
		return false
	}
}

func either(preds ...func(string) bool) func(string) bool {
	return func(text string) bool {
		for _, p := range preds {
			if p(text) {
				return true
			}
		}
		return false
	}
}
