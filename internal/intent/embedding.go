package intent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/dbchat/dbchat/internal/catalog"
	"github.com/dbchat/dbchat/internal/nlp"
)

type prototype struct {
	kind   Kind
	fn     string
	text   string
	vector []float64
}

func defaultPrototypes() []prototype {
	return []prototype{
		{kind: KindListTables, text: "what tables are in the database"},
		{kind: KindListTables, text: "show me every table you have"},
		{kind: KindDescribeTable, text: "describe the structure of the table"},
		{kind: KindDescribeTable, text: "what columns does the table have"},
		{kind: KindSelectRows, text: "show me the rows in the table"},
		{kind: KindSelectRows, text: "find records where a column matches a value"},
		{kind: KindAggregate, fn: "COUNT", text: "how many rows are in the table"},
		{kind: KindAggregate, fn: "SUM", text: "what is the total of a column"},
		{kind: KindAggregate, fn: "AVG", text: "what is the average value of a column"},
		{kind: KindAggregate, fn: "MIN", text: "what is the smallest value of a column"},
		{kind: KindAggregate, fn: "MAX", text: "what is the largest value of a column"},
	}
}

// EmbeddingParser classifies utterances by cosine similarity against a fixed
// set of prototype phrases. It never blocks an exchange: when the embedding
// service is unreachable it reports the utterance as unknown so the caller
// can fall back to other parsers or a clarification prompt.
type EmbeddingParser struct {
	embedder nlp.Embedder
	minScore float64
	logger   *slog.Logger

	mu         sync.Mutex
	prototypes []prototype
	primed     bool
}

type EmbeddingOptions struct {
	// MinScore is the similarity floor below which no intent is assigned.
	MinScore float64
	Logger   *slog.Logger
}

func NewEmbeddingParser(embedder nlp.Embedder, opts EmbeddingOptions) *EmbeddingParser {
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = 0.7
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &EmbeddingParser{
		embedder:   embedder,
		minScore:   minScore,
		logger:     logger,
		prototypes: defaultPrototypes(),
	}
}

func (p *EmbeddingParser) Parse(ctx context.Context, utterance string, snap *catalog.Snapshot, conv Context) (Intent, error) {
	parsed := Intent{Kind: KindUnknown, Raw: utterance}
	if p.embedder == nil {
		return parsed, nil
	}

	vector, err := p.embedder.Embed(ctx, utterance)
	if err != nil {
		p.logger.WarnContext(ctx, "utterance embedding failed, keeping unknown intent", slog.Any("error", err))
		return parsed, nil
	}
	if err := p.prime(ctx); err != nil {
		p.logger.WarnContext(ctx, "prototype embedding failed, keeping unknown intent", slog.Any("error", err))
		return parsed, nil
	}

	best, score := p.closestPrototype(vector)
	if score < p.minScore {
		return parsed, nil
	}
	parsed.Kind = best.kind
	parsed.Func = best.fn

	raw := strings.TrimSpace(utterance)
	lowered := strings.ToLower(raw)
	_, tokens := normalize(lowered)
	fillEntities(&parsed, raw, lowered, tokens, snap, conv)
	return parsed, nil
}

// prime embeds the prototype phrases once, on first use.
func (p *EmbeddingParser) prime(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.primed {
		return nil
	}
	for i := range p.prototypes {
		vector, err := p.embedder.Embed(ctx, p.prototypes[i].text)
		if err != nil {
			return fmt.Errorf("embed prototype %q: %w", p.prototypes[i].text, err)
		}
		p.prototypes[i].vector = vector
	}
	p.primed = true
	return nil
}

func (p *EmbeddingParser) closestPrototype(vector []float64) (prototype, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best prototype
	bestScore := -1.0
	for _, proto := range p.prototypes {
		if score := nlp.Cosine(vector, proto.vector); score > bestScore {
			best = proto
			bestScore = score
		}
	}
	return best, bestScore
}
