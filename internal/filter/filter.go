// Package filter sanitizes backend output before it reaches the user.
package filter

import (
	"regexp"
	"strings"
)

const (
	AdvantagesPreamble = "Our product has the following advantages: "
	RefusalMessage     = "Sorry, I cannot discuss this topic. Can I help you with something else?"
)

type Result struct {
	Text        string
	Competitors []string
	// Topic is the forbidden topic that replaced the text, if any.
	Topic string
}

func (r Result) Modified() bool {
	return len(r.Competitors) > 0 || r.Topic != ""
}

type competitor struct {
	name    string
	lowered string
	re      *regexp.Regexp
}

// Filter redacts competitor names and refuses forbidden topics. It is
// immutable after construction and safe for concurrent use.
type Filter struct {
	competitors []competitor
	topics      []string
	lowered     []string
}

func New(competitors, forbiddenTopics []string) *Filter {
	f := &Filter{}
	for _, name := range competitors {
		if strings.TrimSpace(name) == "" {
			continue
		}
		f.competitors = append(f.competitors, competitor{
			name:    name,
			lowered: strings.ToLower(name),
			re:      regexp.MustCompile("(?i)" + regexp.QuoteMeta(name)),
		})
	}
	for _, topic := range forbiddenTopics {
		if strings.TrimSpace(topic) == "" {
			continue
		}
		f.topics = append(f.topics, topic)
		f.lowered = append(f.lowered, strings.ToLower(topic))
	}
	return f
}

// Apply runs the two passes in order. Competitor names found in the text are
// removed and the advantages preamble is prepended; then, if any forbidden
// topic appears in the possibly modified text, the whole text is replaced by
// the refusal sentence.
func (f *Filter) Apply(text string) Result {
	var res Result
	filtered := text

	lower := strings.ToLower(filtered)
	var found []competitor
	for _, c := range f.competitors {
		if strings.Contains(lower, c.lowered) {
			found = append(found, c)
			res.Competitors = append(res.Competitors, c.name)
		}
	}
	if len(found) > 0 {
		for _, c := range found {
			filtered = c.re.ReplaceAllLiteralString(filtered, "")
		}
		filtered = AdvantagesPreamble + strings.TrimSpace(filtered)
	}

	lower = strings.ToLower(filtered)
	for i, topic := range f.lowered {
		if strings.Contains(lower, topic) {
			res.Topic = f.topics[i]
			filtered = RefusalMessage
			break
		}
	}

	res.Text = strings.TrimSpace(filtered)
	return res
}
