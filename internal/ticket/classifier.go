package ticket

import (
	"regexp"
	"strings"

	"github.com/voice-support-relay/internal/logging"
)

// Helpdesk priority ids.
const (
	PriorityLow    = 1
	PriorityNormal = 2
	PriorityHigh   = 3
	PriorityUrgent = 4
)

// Helpdesk case type ids.
const (
	TypeQuestion       = 1
	TypeTask           = 2
	TypeProblem        = 3
	TypeIncident       = 4
	TypeTest           = 5
	TypeTechnical      = 6
	TypeServiceRequest = 7
)

var priorityNames = map[int]string{
	PriorityLow:    "LOW",
	PriorityNormal: "NORMAL",
	PriorityHigh:   "HIGH",
	PriorityUrgent: "URGENT",
}

var typeNames = map[int]string{
	TypeQuestion:       "QUESTION",
	TypeTask:           "TASK",
	TypeProblem:        "PROBLEM",
	TypeIncident:       "INCIDENT",
	TypeTest:           "TEST",
	TypeTechnical:      "TECHNICAL",
	TypeServiceRequest: "SERVICE_REQUEST",
}

var priorityPatterns = map[int][]string{
	PriorityUrgent: {
		`urgent`, `emergency`, `critical`, `asap`, `immediately`,
		`system.+down`, `cannot.+(work|access|use)`, `broken`,
		`production.+issue`, `security`,
	},
	PriorityHigh: {
		`important`, `serious`, `significant`, `affecting.+work`,
		`high.+priority`, `blocking`, `stuck`, `major`,
	},
	PriorityNormal: {
		`normal`, `regular`, `standard`, `when.+possible`,
		`would.+like`, `please.+help`, `need.+assistance`,
	},
	PriorityLow: {
		`minor`, `low.+priority`, `suggestion`, `feedback`,
		`question`, `curious`, `wondering`,
	},
}

var typePatterns = map[int][]string{
	TypeQuestion: {
		`how.+(?:do|can|should|would|could)`, `what.+is`,
		`explain`, `clarify`, `help.+understand`,
		`guide`, `documentation`,
	},
	TypeTask: {
		`create`, `setup`, `configure`, `update`,
		`change`, `modify`, `add`, `remove`,
		`please.+(?:do|make|set)`,
	},
	TypeProblem: {
		`not.+working`, `error`, `issue`, `bug`,
		`problem`, `failed`, `incorrect`, `wrong`,
	},
	TypeIncident: {
		`down`, `outage`, `unavailable`, `disruption`,
		`crash`, `emergency`, `incident`, `impact`,
	},
	TypeTechnical: {
		`api`, `integration`, `code`, `technical`,
		`developer`, `sdk`, `endpoint`, `authentication`,
	},
	TypeServiceRequest: {
		`request`, `new.+account`, `upgrade`,
		`provision`, `access`, `permission`, `enable`,
	},
}

// Classification is the outcome of analyzing a conversation.
type Classification struct {
	PriorityID         int
	PriorityName       string
	PriorityConfidence float64
	TypeID             int
	TypeName           string
	TypeConfidence     float64
}

// Classifier infers ticket priority and type from conversation text using
// keyword pattern matching with structural fallbacks.
type Classifier struct {
	priority map[int][]*regexp.Regexp
	kinds    map[int][]*regexp.Regexp
}

func NewClassifier() *Classifier {
	return &Classifier{
		priority: compilePatterns(priorityPatterns),
		kinds:    compilePatterns(typePatterns),
	}
}

func compilePatterns(src map[int][]string) map[int][]*regexp.Regexp {
	out := make(map[int][]*regexp.Regexp, len(src))
	for id, pats := range src {
		compiled := make([]*regexp.Regexp, len(pats))
		for i, p := range pats {
			compiled[i] = regexp.MustCompile(`(?i)` + p)
		}
		out[id] = compiled
	}
	return out
}

func countMatches(text string, patterns []*regexp.Regexp) int {
	n := 0
	for _, p := range patterns {
		if p.MatchString(text) {
			n++
		}
	}
	return n
}

// confidence starts at 0.5 for any match and climbs with the match ratio.
func confidence(matches, totalPatterns int) float64 {
	if matches == 0 {
		return 0
	}
	score := 0.5 + float64(matches)/float64(totalPatterns)*0.5
	if score > 1 {
		score = 1
	}
	return score
}

func maxPatternCount(m map[int][]*regexp.Regexp) int {
	max := 0
	for _, pats := range m {
		if len(pats) > max {
			max = len(pats)
		}
	}
	return max
}

// ClassifyPriority returns the priority id and confidence for text.
func (c *Classifier) ClassifyPriority(text string) (int, float64) {
	total := maxPatternCount(c.priority)
	best, bestScore := 0, 0.0
	for id, pats := range c.priority {
		if score := confidence(countMatches(text, pats), total); score > bestScore {
			best, bestScore = id, score
		}
	}

	if best == 0 || bestScore < 0.5 {
		indicators := []struct {
			pattern  string
			priority int
		}{
			{`(?i)(need|required).+immediately`, PriorityUrgent},
			{`(?i)(blocking|preventing).+(work|progress)`, PriorityHigh},
			{`(?i)(would|could).+(help|appreciate)`, PriorityNormal},
			{`(?i)(when|if).+possible`, PriorityLow},
		}
		for _, ind := range indicators {
			if regexp.MustCompile(ind.pattern).MatchString(text) {
				if best == 0 {
					best, bestScore = ind.priority, 0.4
				}
				break
			}
		}
	}

	// Last resort: length as a rough proxy for how involved the issue is.
	if best == 0 {
		words := len(strings.Fields(text))
		switch {
		case words < 10:
			best = PriorityLow
		case words < 20:
			best = PriorityNormal
		default:
			best = PriorityHigh
		}
		bestScore = 0.3
	}
	return best, bestScore
}

// ClassifyType returns the case type id and confidence for text.
func (c *Classifier) ClassifyType(text string) (int, float64) {
	total := maxPatternCount(c.kinds)
	best, bestScore := 0, 0.0
	for id, pats := range c.kinds {
		if score := confidence(countMatches(text, pats), total); score > bestScore {
			best, bestScore = id, score
		}
	}

	if best == 0 || bestScore < 0.5 {
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(text, "?"):
			best, bestScore = TypeQuestion, 0.4
		case containsAny(lower, "broken", "error", "issue", "bug"):
			best, bestScore = TypeProblem, 0.4
		case containsAny(lower, "create", "add", "update", "change"):
			best, bestScore = TypeTask, 0.4
		case containsAny(lower, "access", "permission", "account"):
			best, bestScore = TypeServiceRequest, 0.4
		default:
			if best == 0 {
				best, bestScore = c.classifyBySentence(text)
			}
		}
	}

	if best == 0 {
		best, bestScore = TypeQuestion, 0.3
	}
	return best, bestScore
}

func (c *Classifier) classifyBySentence(text string) (int, float64) {
	for _, s := range strings.Split(text, ".") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if hasPrefixAny(s, "how", "what", "why", "when", "where", "who") {
			return TypeQuestion, 0.35
		}
		if hasPrefixAny(s, "please", "could you", "would you") {
			return TypeTask, 0.35
		}
	}
	return 0, 0
}

// Classify analyzes the full conversation text.
func (c *Classifier) Classify(text string) Classification {
	pid, pconf := c.ClassifyPriority(text)
	tid, tconf := c.ClassifyType(text)
	cl := Classification{
		PriorityID:         pid,
		PriorityName:       priorityNames[pid],
		PriorityConfidence: pconf,
		TypeID:             tid,
		TypeName:           typeNames[tid],
		TypeConfidence:     tconf,
	}
	logging.Debugw("classified conversation",
		"priority", cl.PriorityName, "priority_confidence", pconf,
		"type", cl.TypeName, "type_confidence", tconf)
	return cl
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasPrefixAny(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
