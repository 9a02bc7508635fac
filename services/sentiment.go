package services

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pricepulse/models"
	"pricepulse/storage"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

// negationLookback is how many tokens before a polarity word a negation
// still flips it ("not very good" → negative).
const negationLookback = 3

// clauseSplitRegexp breaks review text into clauses at punctuation and
// contrast conjunctions, so "great battery but dim screen" scores the two
// halves independently.
var clauseSplitRegexp = regexp.MustCompile(`[.,;:!?]+|\b(?:but|however|although|though|while|yet)\b`)

// Lexicon is the versioned polarity table the extractor classifies
// against. Same lexicon version plus same review set always yields the
// same output.
type Lexicon struct {
	Version   string   `yaml:"version"`
	Positive  []string `yaml:"positive"`
	Negative  []string `yaml:"negative"`
	Negations []string `yaml:"negations"`
	Stopwords []string `yaml:"stopwords"`

	positive  map[string]struct{}
	negative  map[string]struct{}
	negations map[string]struct{}
	stopwords map[string]struct{}
}

// LoadLexicon reads a lexicon from path, or the embedded default when path
// is empty.
func LoadLexicon(path string) (*Lexicon, error) {
	data := defaultLexicon
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("lexicon: read %s: %w", path, err)
		}
		data = b
	}

	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("lexicon: parse: %w", err)
	}
	lex.index()
	return &lex, nil
}

func (l *Lexicon) index() {
	l.positive = toSet(l.Positive)
	l.negative = toSet(l.Negative)
	l.negations = toSet(l.Negations)
	l.stopwords = toSet(l.Stopwords)
}

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

// SentimentExtractor derives pros, cons and a polarity score from the
// current review set of a product. Results are recomputed fresh on every
// call; nothing is cached or mutated between calls.
type SentimentExtractor struct {
	ledger       storage.Ledger
	lex          *Lexicon
	topK         int
	halfLifeDays float64 // 0 disables recency weighting
}

// NewSentimentExtractor creates an extractor keeping the top-K pros/cons.
func NewSentimentExtractor(ledger storage.Ledger, lex *Lexicon, topK, halfLifeDays int) *SentimentExtractor {
	if topK <= 0 {
		topK = 5
	}
	return &SentimentExtractor{
		ledger:       ledger,
		lex:          lex,
		topK:         topK,
		halfLifeDays: float64(halfLifeDays),
	}
}

type phraseCount struct {
	display string
	count   int
}

// Analyze classifies every clause of every stored review against the
// lexicon. Zero reviews yields an empty result with NoData set, not an
// error.
func (s *SentimentExtractor) Analyze(ctx context.Context, productID string) (*models.SentimentResult, error) {
	reviews, err := s.ledger.Reviews(ctx, productID)
	if err != nil {
		return nil, err
	}

	result := &models.SentimentResult{
		ProductID: productID,
		Pros:      []string{},
		Cons:      []string{},
		Lexicon:   s.lex.Version,
		Reviews:   len(reviews),
	}
	if len(reviews) == 0 {
		result.NoData = true
		return result, nil
	}

	proCounts := map[string]*phraseCount{}
	conCounts := map[string]*phraseCount{}
	now := time.Now()

	var weightedSum, weightTotal float64
	for _, review := range reviews {
		score := s.scoreReview(review.Text, proCounts, conCounts)

		weight := 1.0
		if s.halfLifeDays > 0 {
			ageDays := now.Sub(review.ObservedAt).Hours() / 24
			weight = math.Pow(0.5, ageDays/s.halfLifeDays)
		}
		weightedSum += score * weight
		weightTotal += weight
	}

	if weightTotal > 0 {
		result.Score = clamp(weightedSum/weightTotal, -1, 1)
	}
	result.Pros = topPhrases(proCounts, s.topK)
	result.Cons = topPhrases(conCounts, s.topK)
	return result, nil
}

// scoreReview scores one review in [-1, 1] and collects pro/con phrase
// candidates from its clauses.
func (s *SentimentExtractor) scoreReview(text string, pros, cons map[string]*phraseCount) float64 {
	var posHits, negHits int

	for _, clause := range clauseSplitRegexp.Split(strings.ToLower(text), -1) {
		tokens := tokenize(clause)
		if len(tokens) == 0 {
			continue
		}

		polarity := 0
		for i, tok := range tokens {
			hit := 0
			if _, ok := s.lex.positive[tok]; ok {
				hit = 1
			} else if _, ok := s.lex.negative[tok]; ok {
				hit = -1
			}
			if hit == 0 {
				continue
			}
			if s.negatedAt(tokens, i) {
				hit = -hit
			}
			polarity += hit
			if hit > 0 {
				posHits++
			} else {
				negHits++
			}
		}

		if polarity == 0 {
			continue
		}
		phrase := s.candidatePhrase(tokens)
		if phrase == "" {
			continue
		}
		if polarity > 0 {
			countPhrase(pros, phrase)
		} else {
			countPhrase(cons, phrase)
		}
	}

	if posHits+negHits == 0 {
		return 0
	}
	return float64(posHits-negHits) / float64(posHits+negHits)
}

// negatedAt reports whether a negation token appears within the lookback
// window before position i.
func (s *SentimentExtractor) negatedAt(tokens []string, i int) bool {
	start := i - negationLookback
	if start < 0 {
		start = 0
	}
	for _, tok := range tokens[start:i] {
		if _, ok := s.lex.negations[tok]; ok {
			return true
		}
	}
	return false
}

// candidatePhrase strips polarity words, negations and stopwords from a
// clause, leaving the subject the sentiment is about ("great battery life"
// → "battery life").
func (s *SentimentExtractor) candidatePhrase(tokens []string) string {
	var kept []string
	for _, tok := range tokens {
		if _, ok := s.lex.positive[tok]; ok {
			continue
		}
		if _, ok := s.lex.negative[tok]; ok {
			continue
		}
		if _, ok := s.lex.negations[tok]; ok {
			continue
		}
		if _, ok := s.lex.stopwords[tok]; ok {
			continue
		}
		kept = append(kept, tok)
	}
	return strings.Join(kept, " ")
}

// countPhrase deduplicates case-insensitively on the stemmed phrase and
// keeps the first spelling seen for display.
func countPhrase(counts map[string]*phraseCount, phrase string) {
	key := stemPhrase(phrase)
	if pc, ok := counts[key]; ok {
		pc.count++
		return
	}
	counts[key] = &phraseCount{display: phrase, count: 1}
}

// topPhrases ranks candidates by frequency, ties alphabetically so output
// is deterministic.
func topPhrases(counts map[string]*phraseCount, k int) []string {
	all := make([]*phraseCount, 0, len(counts))
	for _, pc := range counts {
		all = append(all, pc)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].display < all[j].display
	})
	if len(all) > k {
		all = all[:k]
	}
	out := make([]string, len(all))
	for i, pc := range all {
		out[i] = pc.display
	}
	return out
}

// stemPhrase applies a crude suffix stem per token, enough to fold
// "batteries"/"battery" and "lagging"/"lag" style duplicates together.
func stemPhrase(phrase string) string {
	tokens := strings.Fields(phrase)
	for i, tok := range tokens {
		tokens[i] = stem(tok)
	}
	return strings.Join(tokens, " ")
}

func stem(word string) string {
	if strings.HasSuffix(word, "ies") && len(word) > 4 {
		return word[:len(word)-3] + "y"
	}
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if strings.HasSuffix(word, suffix) && len(word)-len(suffix) >= 3 {
			return word[:len(word)-len(suffix)]
		}
	}
	return word
}

func tokenize(s string) []string {
	var tokens []string
	for _, word := range strings.Fields(s) {
		word = strings.TrimFunc(word, func(r rune) bool {
			return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '\'')
		})
		if word != "" {
			tokens = append(tokens, word)
		}
	}
	return tokens
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
