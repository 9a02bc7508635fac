package services

import (
	"context"
	"reflect"
	"testing"
	"time"

	"pricepulse/models"
	"pricepulse/storage"
)

func testLexicon(t *testing.T) *Lexicon {
	t.Helper()
	lex, err := LoadLexicon("")
	if err != nil {
		t.Fatalf("LoadLexicon: %v", err)
	}
	return lex
}

func seedReviews(t *testing.T, ledger storage.Ledger, id string, texts []string) {
	t.Helper()
	reviews := make([]*models.Review, len(texts))
	for i, text := range texts {
		reviews[i] = &models.Review{
			ProductID:  id,
			Text:       text,
			Rating:     4,
			ObservedAt: time.Now().Add(-time.Duration(i) * time.Hour),
		}
	}
	if err := ledger.SaveReviews(context.Background(), reviews); err != nil {
		t.Fatalf("SaveReviews: %v", err)
	}
}

func TestSentimentNoReviews(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	s := NewSentimentExtractor(ledger, testLexicon(t), 5, 0)

	res, err := s.Analyze(context.Background(), "amazon:empty")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.NoData {
		t.Error("expected NoData for a product with no reviews")
	}
	if res.Score != 0 {
		t.Errorf("score = %.2f; want 0", res.Score)
	}
	if len(res.Pros) != 0 || len(res.Cons) != 0 {
		t.Errorf("expected empty pros/cons, got %v / %v", res.Pros, res.Cons)
	}
}

func TestSentimentContrastClauses(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedReviews(t, ledger, "amazon:P1", []string{
		"Great battery life but the screen is dim.",
	})

	s := NewSentimentExtractor(ledger, testLexicon(t), 5, 0)
	res, err := s.Analyze(context.Background(), "amazon:P1")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if !reflect.DeepEqual(res.Pros, []string{"battery life"}) {
		t.Errorf("pros = %v; want [battery life]", res.Pros)
	}
	if !reflect.DeepEqual(res.Cons, []string{"screen"}) {
		t.Errorf("cons = %v; want [screen]", res.Cons)
	}
	if res.Score != 0 {
		t.Errorf("score = %.2f; want 0 for one positive and one negative hit", res.Score)
	}
	if res.Lexicon == "" {
		t.Error("result missing lexicon version")
	}
}

func TestSentimentNegationFlipsPolarity(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedReviews(t, ledger, "amazon:P2", []string{
		"The battery is not good.",
	})

	s := NewSentimentExtractor(ledger, testLexicon(t), 5, 0)
	res, err := s.Analyze(context.Background(), "amazon:P2")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Score != -1 {
		t.Errorf("score = %.2f; want -1 for a negated positive", res.Score)
	}
	if !reflect.DeepEqual(res.Cons, []string{"battery"}) {
		t.Errorf("cons = %v; want [battery]", res.Cons)
	}
}

func TestSentimentScoreBounds(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedReviews(t, ledger, "amazon:P3", []string{
		"Amazing product, excellent quality, love it.",
		"Terrible purchase, broken on arrival, awful.",
		"Good sound.",
	})

	s := NewSentimentExtractor(ledger, testLexicon(t), 5, 0)
	res, err := s.Analyze(context.Background(), "amazon:P3")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Score < -1 || res.Score > 1 {
		t.Errorf("score %.4f outside [-1, 1]", res.Score)
	}
	if res.Reviews != 3 {
		t.Errorf("reviews = %d; want 3", res.Reviews)
	}
}

func TestSentimentFrequencyRanking(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedReviews(t, ledger, "amazon:P4", []string{
		"Great battery.",
		"Excellent battery.",
		"Nice keyboard.",
	})

	s := NewSentimentExtractor(ledger, testLexicon(t), 1, 0)
	res, err := s.Analyze(context.Background(), "amazon:P4")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !reflect.DeepEqual(res.Pros, []string{"battery"}) {
		t.Errorf("pros = %v; want [battery] (mentioned twice, topK=1)", res.Pros)
	}
}

func TestSentimentStemFoldsPlurals(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedReviews(t, ledger, "amazon:P5", []string{
		"Great batteries.",
		"Solid battery.",
		"Nice case.",
	})

	s := NewSentimentExtractor(ledger, testLexicon(t), 1, 0)
	res, err := s.Analyze(context.Background(), "amazon:P5")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Pros) != 1 || stemPhrase(res.Pros[0]) != "battery" {
		t.Errorf("pros = %v; want the two battery mentions folded ahead of case", res.Pros)
	}
}

func TestSentimentDeterministic(t *testing.T) {
	ledger := storage.NewMemoryLedger()
	seedReviews(t, ledger, "amazon:P6", []string{
		"Great screen, great sound, bad battery.",
		"Love the screen. Slow charging.",
	})

	s := NewSentimentExtractor(ledger, testLexicon(t), 5, 0)
	first, err := s.Analyze(context.Background(), "amazon:P6")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := s.Analyze(context.Background(), "amazon:P6")
		if err != nil {
			t.Fatalf("Analyze: %v", err)
		}
		if !reflect.DeepEqual(first.Pros, again.Pros) || !reflect.DeepEqual(first.Cons, again.Cons) {
			t.Fatalf("output changed between runs: %v/%v vs %v/%v",
				first.Pros, first.Cons, again.Pros, again.Cons)
		}
		if first.Score != again.Score {
			t.Fatalf("score changed between runs: %v vs %v", first.Score, again.Score)
		}
	}
}
