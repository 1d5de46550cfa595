package chat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/echosofme/echos-server/internal/domain"
)

// Common words carry no topical signal and are ignored when matching a
// message against stored answers.
var stopwords = map[string]struct{}{
	"a": {}, "about": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "can": {}, "did": {}, "do": {}, "does": {},
	"for": {}, "from": {}, "had": {}, "has": {}, "have": {}, "how": {},
	"i": {}, "if": {}, "in": {}, "is": {}, "it": {}, "its": {}, "me": {},
	"my": {}, "of": {}, "on": {}, "or": {}, "our": {}, "so": {}, "tell": {},
	"that": {}, "the": {}, "their": {}, "them": {}, "then": {}, "there": {},
	"they": {}, "this": {}, "to": {}, "was": {}, "we": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {},
	"will": {}, "with": {}, "would": {}, "you": {}, "your": {},
}

// ExtractKeywords lowercases the message and returns its topical words.
func ExtractKeywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '\''
	})

	seen := make(map[string]struct{}, len(fields))
	var keywords []string
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if len(f) < 2 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		keywords = append(keywords, f)
	}
	return keywords
}

// SelectRelevantAnswers ranks stored answers by keyword overlap with the
// message, most recent first among ties, and returns up to limit of them.
// Only answers that match at least one keyword are returned.
func SelectRelevantAnswers(keywords []string, answers []*domain.StoredAnswer, limit int) []*domain.StoredAnswer {
	if limit <= 0 || len(keywords) == 0 {
		return nil
	}

	type scored struct {
		answer *domain.StoredAnswer
		score  int
	}

	var ranked []scored
	for _, a := range answers {
		words := answerWordSet(a)
		score := 0
		for _, kw := range keywords {
			if _, ok := words[kw]; ok {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{answer: a, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].answer.CreatedAt.After(ranked[j].answer.CreatedAt)
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	selected := make([]*domain.StoredAnswer, len(ranked))
	for i, s := range ranked {
		selected[i] = s.answer
	}
	return selected
}

func answerWordSet(a *domain.StoredAnswer) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(a.Question+" "+a.Answer), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '\''
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.Trim(f, "'")] = struct{}{}
	}
	return set
}

// SynthesizeFallback builds a deterministic reply from stored answers when
// the inference engine is unavailable. The returned confidence is the
// keyword overlap ratio of the best-matching answer.
func SynthesizeFallback(message string, answers []*domain.StoredAnswer, limit int) (string, float64) {
	if len(answers) == 0 {
		return "I haven't written down a reflection that speaks to that yet. " +
			"Ask me about something I've already shared, and I'll answer in my own words.", 0
	}

	keywords := ExtractKeywords(message)
	selected := SelectRelevantAnswers(keywords, answers, limit)

	confidence := 0.0
	if len(selected) > 0 && len(keywords) > 0 {
		matched := 0
		words := answerWordSet(selected[0])
		for _, kw := range keywords {
			if _, ok := words[kw]; ok {
				matched++
			}
		}
		confidence = float64(matched) / float64(len(keywords))
	}

	// Nothing topical matched: stay grounded in the most recent answers
	// rather than apologizing.
	if len(selected) == 0 {
		if len(answers) > limit {
			selected = answers[:limit]
		} else {
			selected = answers
		}
	}

	var b strings.Builder
	for i, a := range selected {
		if i == 0 {
			fmt.Fprintf(&b, "That reminds me of something I once shared. When asked %q, I said: %s", a.Question, a.Answer)
			continue
		}
		b.WriteString(" ")
		fmt.Fprintf(&b, "I also remember saying: %s", a.Answer)
	}
	return b.String(), confidence
}
