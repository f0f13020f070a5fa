package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ragworks/docqa/internal/retrieval"
	"github.com/ragworks/docqa/provider"
)

type fakeRetriever struct {
	results []retrieval.Result
	err     error
}

func (f fakeRetriever) Retrieve(_ context.Context, _, _ string, _ int, _ float64) ([]retrieval.Result, error) {
	return f.results, f.err
}

type fakeGenerator struct {
	text     string
	failures int
	attempts int
	messages []provider.ChatMessage
}

func (f *fakeGenerator) Generate(_ context.Context, messages []provider.ChatMessage) (string, error) {
	f.attempts++
	f.messages = messages
	if f.attempts <= f.failures {
		return "", errors.New("upstream overloaded")
	}
	return f.text, nil
}

func fastOpts() Options {
	return Options{
		MaxContextTokens: 6000,
		TopK:             5,
		MaxAttempts:      3,
		BackoffBase:      time.Millisecond,
		BackoffMax:       5 * time.Millisecond,
	}
}

func someResults() []retrieval.Result {
	return []retrieval.Result{
		{DocumentName: "handbook.pdf", PageNumber: 3, Text: "Employees get 25 vacation days.", Score: 0.9},
		{DocumentName: "handbook.pdf", PageNumber: 7, Text: "Unused days expire in March.", Score: 0.7},
	}
}

func TestAnswerHappyPath(t *testing.T) {
	gen := &fakeGenerator{text: "You get 25 vacation days."}
	o := New(fakeRetriever{results: someResults()}, gen, fastOpts())

	resp := o.Answer(context.Background(), "how many vacation days?", "HR", nil)
	if resp.Answer != "You get 25 vacation days." {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if len(resp.Sources) != 2 || resp.Sources[0] != "handbook.pdf (Page 3)" {
		t.Fatalf("unexpected sources: %v", resp.Sources)
	}
	if resp.Confidence < 0.79 || resp.Confidence > 0.81 {
		t.Fatalf("expected mean confidence 0.8, got %f", resp.Confidence)
	}
	sys := gen.messages[0].Content
	if !strings.Contains(sys, "[handbook.pdf Page 3] Employees get 25 vacation days.") {
		t.Fatalf("context block missing excerpt: %s", sys)
	}
}

func TestAnswerValidation(t *testing.T) {
	gen := &fakeGenerator{}
	o := New(fakeRetriever{results: someResults()}, gen, fastOpts())

	resp := o.Answer(context.Background(), "   ", "HR", nil)
	if resp.Answer == "" || resp.Confidence != 0 {
		t.Fatalf("expected degraded response for empty question: %+v", resp)
	}
	resp = o.Answer(context.Background(), strings.Repeat("x", 1001), "HR", nil)
	if !strings.Contains(resp.Answer, "1000") {
		t.Fatalf("expected length-limit response: %+v", resp)
	}
	if gen.attempts != 0 {
		t.Fatalf("validation failures must not reach the generator")
	}
}

func TestAnswerNoResults(t *testing.T) {
	gen := &fakeGenerator{}
	o := New(fakeRetriever{}, gen, fastOpts())

	resp := o.Answer(context.Background(), "anything?", "HR", nil)
	if !strings.Contains(resp.Answer, "couldn't find") {
		t.Fatalf("unexpected no-results answer: %q", resp.Answer)
	}
	if len(resp.Sources) != 0 || resp.Confidence != 0 {
		t.Fatalf("no-results response must carry no sources: %+v", resp)
	}
	if gen.attempts != 0 {
		t.Fatalf("generator must not run without context")
	}
}

func TestAnswerRetrievalFailureDegrades(t *testing.T) {
	o := New(fakeRetriever{err: errors.New("db down")}, &fakeGenerator{}, fastOpts())

	resp := o.Answer(context.Background(), "anything?", "HR", nil)
	if !strings.Contains(resp.Answer, "try again later") {
		t.Fatalf("expected degraded answer, got %q", resp.Answer)
	}
	if resp.Confidence != 0 {
		t.Fatalf("degraded response must have zero confidence: %+v", resp)
	}
}

func TestAnswerRetriesThenSucceeds(t *testing.T) {
	gen := &fakeGenerator{text: "eventually fine", failures: 2}
	o := New(fakeRetriever{results: someResults()}, gen, fastOpts())

	resp := o.Answer(context.Background(), "question?", "HR", nil)
	if resp.Answer != "eventually fine" {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if gen.attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", gen.attempts)
	}
}

func TestAnswerExhaustedRetriesDegrade(t *testing.T) {
	gen := &fakeGenerator{failures: 10}
	o := New(fakeRetriever{results: someResults()}, gen, fastOpts())

	resp := o.Answer(context.Background(), "question?", "HR", nil)
	if !strings.Contains(resp.Answer, "unable to generate") {
		t.Fatalf("expected degraded answer, got %q", resp.Answer)
	}
	if gen.attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", gen.attempts)
	}
}

func TestAnswerContextBudget(t *testing.T) {
	big := strings.Repeat("a", 350)
	results := []retrieval.Result{
		{DocumentName: "a.pdf", PageNumber: 1, Text: big, Score: 0.9},
		{DocumentName: "a.pdf", PageNumber: 2, Text: big, Score: 0.8},
		{DocumentName: "a.pdf", PageNumber: 3, Text: big, Score: 0.7},
	}
	opts := fastOpts()
	opts.MaxContextTokens = 200 // 800 chars, room for two excerpts
	gen := &fakeGenerator{text: "ok"}
	o := New(fakeRetriever{results: results}, gen, opts)

	resp := o.Answer(context.Background(), "question?", "HR", nil)
	if strings.Contains(gen.messages[0].Content, "Page 3") {
		t.Fatalf("third excerpt should have been dropped by the budget")
	}
	// trimming the prompt must not hide provenance from the caller
	if len(resp.Sources) != 3 {
		t.Fatalf("sources must cover all retrieved chunks, got %v", resp.Sources)
	}
	if resp.Confidence < 0.79 || resp.Confidence > 0.81 {
		t.Fatalf("confidence must average all retrieved scores, got %f", resp.Confidence)
	}
}

func TestAnswerOversizedFirstExcerptDropped(t *testing.T) {
	results := []retrieval.Result{
		{DocumentName: "a.pdf", PageNumber: 1, Text: strings.Repeat("a", 900), Score: 0.9},
		{DocumentName: "a.pdf", PageNumber: 2, Text: "short", Score: 0.8},
	}
	opts := fastOpts()
	opts.MaxContextTokens = 200 // 800 chars, smaller than the first excerpt
	gen := &fakeGenerator{text: "ok"}
	o := New(fakeRetriever{results: results}, gen, opts)

	o.Answer(context.Background(), "question?", "HR", nil)
	sys := gen.messages[0].Content
	if strings.Contains(sys, "Page 1") || strings.Contains(sys, "Page 2") {
		t.Fatalf("assembly must stop at the first overflowing excerpt: %s", sys)
	}
}

func TestAnswerHistoryWindow(t *testing.T) {
	gen := &fakeGenerator{text: "ok"}
	o := New(fakeRetriever{results: someResults()}, gen, fastOpts())

	var history []Turn
	for i := 0; i < 8; i++ {
		history = append(history,
			Turn{Role: "user", Content: "q" + string(rune('0'+i))},
			Turn{Role: "assistant", Content: "a" + string(rune('0'+i))},
		)
	}
	o.Answer(context.Background(), "question?", "HR", history)

	sys := gen.messages[0].Content
	if strings.Contains(sys, "USER: q0") {
		t.Fatalf("old turns must fall out of the history window")
	}
	if !strings.Contains(sys, "ASSISTANT: a7") {
		t.Fatalf("latest turn missing from prompt: %s", sys)
	}
}

func TestAnswerSourceDedup(t *testing.T) {
	results := []retrieval.Result{
		{DocumentName: "a.pdf", PageNumber: 1, Text: "one", Score: 0.9},
		{DocumentName: "a.pdf", PageNumber: 1, Text: "one again", Score: 0.8},
	}
	gen := &fakeGenerator{text: "ok"}
	o := New(fakeRetriever{results: results}, gen, fastOpts())

	resp := o.Answer(context.Background(), "question?", "HR", nil)
	if len(resp.Sources) != 1 || resp.Sources[0] != "a.pdf (Page 1)" {
		t.Fatalf("expected deduplicated sources, got %v", resp.Sources)
	}
}
