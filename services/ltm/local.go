package ltm

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/samber/lo"
)

// LocalStore is the in-process fallback fact store used when no vector
// index is configured. Facts are ranked by how many query terms fuzzy-match
// their words; ties keep insertion order, so newer duplicates never displace
// the original phrasing.
type LocalStore struct {
	mu    sync.Mutex
	facts map[string][]string
}

func NewLocalStore() *LocalStore {
	return &LocalStore{facts: make(map[string][]string)}
}

func (s *LocalStore) AddFact(ctx context.Context, conversationID, fact string) error {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.facts[conversationID] = append(s.facts[conversationID], fact)
	return nil
}

func (s *LocalStore) SearchFacts(ctx context.Context, conversationID, query string, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	facts := make([]string, len(s.facts[conversationID]))
	copy(facts, s.facts[conversationID])
	s.mu.Unlock()

	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	type scoredFact struct {
		fact  string
		score int
	}

	var matched []scoredFact
	for _, fact := range facts {
		words := tokenize(fact)
		score := 0
		for _, term := range terms {
			if len(fuzzy.Find(term, words)) > 0 || fuzzy.MatchFold(term, fact) {
				score++
			}
		}
		if score > 0 {
			matched = append(matched, scoredFact{fact: fact, score: score})
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].score > matched[j].score
	})

	ranked := lo.Uniq(lo.Map(matched, func(m scoredFact, _ int) string {
		return m.fact
	}))
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

func tokenize(text string) []string {
	var words []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:()[]{}\"'")
		if word != "" {
			words = append(words, word)
		}
	}
	return words
}
