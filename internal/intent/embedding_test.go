package intent

import (
	"context"
	"errors"
	"testing"
)

type fakeEmbedder struct {
	vectors map[string][]float64
	err     error
	calls   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if vector, ok := f.vectors[text]; ok {
		return vector, nil
	}
	return []float64{0, 0, 1}, nil
}

func TestEmbeddingParserClassifiesByPrototype(t *testing.T) {
	snap := parserSnapshot()
	embedder := &fakeEmbedder{vectors: map[string][]float64{
		"display every record in the orders table for me": {1, 0, 0},
		"show me the rows in the table":                   {1, 0, 0},
	}}
	parser := NewEmbeddingParser(embedder, EmbeddingOptions{})

	parsed, err := parser.Parse(context.Background(), "display every record in the orders table for me", snap, Context{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Kind != KindSelectRows {
		t.Fatalf("Kind = %q, want select_rows", parsed.Kind)
	}
	if parsed.Table != "orders" {
		t.Fatalf("Table = %q, want orders", parsed.Table)
	}
}

func TestEmbeddingParserBelowThresholdIsUnknown(t *testing.T) {
	snap := parserSnapshot()
	embedder := &fakeEmbedder{vectors: map[string][]float64{
		"tell me a joke": {1, 0, 0},
	}}
	parser := NewEmbeddingParser(embedder, EmbeddingOptions{MinScore: 0.7})

	parsed, err := parser.Parse(context.Background(), "tell me a joke", snap, Context{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Kind != KindUnknown {
		t.Fatalf("Kind = %q, want unknown", parsed.Kind)
	}
}

func TestEmbeddingParserDegradesWhenEmbedderFails(t *testing.T) {
	snap := parserSnapshot()
	parser := NewEmbeddingParser(&fakeEmbedder{err: errors.New("connection refused")}, EmbeddingOptions{})

	parsed, err := parser.Parse(context.Background(), "show me orders", snap, Context{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Kind != KindUnknown {
		t.Fatalf("Kind = %q, want unknown", parsed.Kind)
	}
}

func TestEmbeddingParserWithoutEmbedderIsUnknown(t *testing.T) {
	snap := parserSnapshot()
	parser := NewEmbeddingParser(nil, EmbeddingOptions{})

	parsed, err := parser.Parse(context.Background(), "show me orders", snap, Context{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Kind != KindUnknown {
		t.Fatalf("Kind = %q, want unknown", parsed.Kind)
	}
}

func TestEmbeddingParserPrimesPrototypesOnce(t *testing.T) {
	snap := parserSnapshot()
	embedder := &fakeEmbedder{}
	parser := NewEmbeddingParser(embedder, EmbeddingOptions{})

	if _, err := parser.Parse(context.Background(), "first utterance", snap, Context{}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	afterFirst := embedder.calls
	if _, err := parser.Parse(context.Background(), "second utterance", snap, Context{}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if embedder.calls != afterFirst+1 {
		t.Fatalf("calls = %d, want %d (one per utterance after priming)", embedder.calls, afterFirst+1)
	}
}
