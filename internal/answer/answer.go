// Package answer turns a question plus retrieved context into a grounded
// response. The orchestrator is fail-soft: every failure mode degrades into a
// usable answer payload instead of an error, so a chat request never 500s on
// an upstream hiccup.
package answer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ragworks/docqa/internal/retrieval"
	"github.com/ragworks/docqa/provider"
)

// charsPerToken is the rough character-to-token ratio used to keep the
// context block inside the model's window.
const charsPerToken = 4

const maxQuestionLen = 1000

const systemPreamble = `You are a helpful assistant that answers questions using only the provided document excerpts. If the excerpts do not contain the answer, say so plainly. Cite nothing beyond the excerpts.`

// Turn is one prior exchange in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the answer payload. Confidence is the mean score over all
// retrieved chunks, 0 when the response is degraded.
type Response struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// Retriever fetches context chunks for the question. Zero topK and threshold
// mean the engine's configured defaults.
type Retriever interface {
	Retrieve(ctx context.Context, query, tag string, topK int, threshold float64) ([]retrieval.Result, error)
}

// Generator produces the completion.
type Generator interface {
	Generate(ctx context.Context, messages []provider.ChatMessage) (string, error)
}

// Options are the orchestrator's tunables.
type Options struct {
	MaxContextTokens int
	TopK             int
	MaxAttempts      int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
}

// Orchestrator runs the question-answering flow end to end.
type Orchestrator struct {
	retriever Retriever
	generator Generator
	opts      Options
	logger    *log.Logger
}

// New creates an orchestrator.
func New(retriever Retriever, generator Generator, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.MaxContextTokens <= 0 {
		opts.MaxContextTokens = 6000
	}
	return &Orchestrator{
		retriever: retriever,
		generator: generator,
		opts:      opts,
		logger:    log.New(log.Writer(), "[ANSWER] ", log.LstdFlags),
	}
}

// Answer responds to the question using the tagged corpus and the last few
// conversation turns. It always returns a response.
func (o *Orchestrator) Answer(ctx context.Context, question, tag string, history []Turn) Response {
	question = strings.TrimSpace(question)
	if question == "" {
		return Response{Answer: "Please provide a question.", Sources: []string{}}
	}
	if len(question) > maxQuestionLen {
		return Response{Answer: fmt.Sprintf("Questions are limited to %d characters.", maxQuestionLen), Sources: []string{}}
	}

	results, err := o.retriever.Retrieve(ctx, question, tag, o.opts.TopK, 0)
	if err != nil {
		o.logger.Printf("retrieval failed: %v", err)
		return Response{Answer: "I'm having trouble searching the documents right now. Please try again later.", Sources: []string{}}
	}
	if len(results) == 0 {
		return Response{Answer: "I couldn't find any relevant information in the documents to answer that.", Sources: []string{}}
	}

	messages := buildMessages(question, o.buildContext(results), history)

	text, err := o.generate(ctx, messages)
	if err != nil {
		o.logger.Printf("generation failed after %d attempts: %v", o.opts.MaxAttempts, err)
		return Response{Answer: "I'm unable to generate an answer right now. Please try again later.", Sources: []string{}}
	}

	// sources and confidence reflect everything retrieval found, not just
	// the excerpts that fit the prompt budget
	return Response{
		Answer:     strings.TrimSpace(text),
		Sources:    sourceList(results),
		Confidence: meanScore(results),
	}
}

// buildContext formats the excerpts in rank order and stops at the first one
// that would push the block past the token budget.
func (o *Orchestrator) buildContext(results []retrieval.Result) string {
	budget := o.opts.MaxContextTokens * charsPerToken
	var b strings.Builder
	for _, r := range results {
		line := fmt.Sprintf("[%s Page %d] %s\n", r.DocumentName, r.PageNumber, r.Text)
		if b.Len()+len(line) > budget {
			break
		}
		b.WriteString(line)
	}
	return b.String()
}

const historyWindow = 5

func buildMessages(question, contextBlock string, history []Turn) []provider.ChatMessage {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\nDocument excerpts:\n")
	b.WriteString(contextBlock)
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, t := range history {
			b.WriteString(strings.ToUpper(t.Role))
			b.WriteString(": ")
			b.WriteString(t.Content)
			b.WriteString("\n")
		}
	}
	return []provider.ChatMessage{
		{Role: "system", Content: b.String()},
		{Role: "user", Content: question},
	}
}

func (o *Orchestrator) generate(ctx context.Context, messages []provider.ChatMessage) (string, error) {
	bo := backoff.NewExponentialBackOff()
	if o.opts.BackoffBase > 0 {
		bo.InitialInterval = o.opts.BackoffBase
	}
	if o.opts.BackoffMax > 0 {
		bo.MaxInterval = o.opts.BackoffMax
	}
	var out string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		text, err := o.generator.Generate(ctx, messages)
		if err != nil {
			o.logger.Printf("generation attempt %d failed: %v", attempt, err)
			return err
		}
		out = text
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(o.opts.MaxAttempts-1)), ctx))
	return out, err
}

func sourceList(results []retrieval.Result) []string {
	seen := make(map[string]bool, len(results))
	out := make([]string, 0, len(results))
	for _, r := range results {
		src := fmt.Sprintf("%s (Page %d)", r.DocumentName, r.PageNumber)
		if seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}

func meanScore(results []retrieval.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum / float64(len(results))
}
