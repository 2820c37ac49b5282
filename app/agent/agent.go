package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"docintel/model"
	"docintel/retry"
	"docintel/types"
)

const noGroundingAnswer = "I couldn't find any relevant information in your documents."

const systemPrompt = `You are a precise Document Assistant. Answer the question using ONLY the provided context.

STRICT RULES:
1. At the end of sentences that use information from a source, cite it like [1] or [2].
2. Only cite source numbers that appear in the context.
3. If the answer isn't in the context, say "I don't have enough information in your documents."`

// Agent turns retrieval results into a cited answer. Retrieved chunks are
// grouped by document in order of first use; group n becomes SOURCE n in the
// prompt and position n in the sources list, so inline [n] markers map 1:1
// onto sources.
type Agent struct {
	retriever *Retriever
	llm       model.Client
	policy    retry.Policy

	callTimeout      time.Duration
	maxContextTokens int
	logger           *slog.Logger

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

func NewAgent(retriever *Retriever, llm model.Client, policy retry.Policy, callTimeout time.Duration, maxContextTokens int) *Agent {
	if maxContextTokens <= 0 {
		maxContextTokens = 6000
	}
	return &Agent{
		retriever:        retriever,
		llm:              llm,
		policy:           policy,
		callTimeout:      callTimeout,
		maxContextTokens: maxContextTokens,
		logger:           slog.Default(),
	}
}

func (a *Agent) Chat(ctx context.Context, ownerID int64, query string, docFilter *int64, limit int) (*types.ChatAnswer, error) {
	results, err := a.retriever.Search(ctx, ownerID, query, docFilter, limit)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return &types.ChatAnswer{
			Answer: noGroundingAnswer,
			Metadata: types.ChatMetadata{
				TotalChunksFound: 0,
				Sources:          []types.Source{},
			},
		}, nil
	}

	groups := groupByDocument(results)
	groups = a.trimToBudget(groups)

	prompt := buildPrompt(query, groups)

	answer, err := retry.Do(ctx, a.policy, func(ctx context.Context) (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
		defer cancel()
		return a.llm.Generate(callCtx, systemPrompt, prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrGenerationFailed, err)
	}

	sources := make([]types.Source, len(groups))
	for i, g := range groups {
		sources[i] = types.Source{DocumentID: g.documentID, Filename: g.filename}
	}

	return &types.ChatAnswer{
		Answer: strings.TrimSpace(answer),
		Metadata: types.ChatMetadata{
			TotalChunksFound: len(results),
			Sources:          sources,
		},
	}, nil
}

type sourceGroup struct {
	documentID int64
	filename   string
	passages   []string
}

// groupByDocument collects passages per document, preserving the order in
// which documents first appear in the score-ranked results. Each document
// gets exactly one slot no matter how many of its chunks matched.
func groupByDocument(results []types.SearchResult) []sourceGroup {
	order := make(map[int64]int)
	groups := make([]sourceGroup, 0, len(results))
	for _, r := range results {
		pos, ok := order[r.DocumentID]
		if !ok {
			pos = len(groups)
			order[r.DocumentID] = pos
			groups = append(groups, sourceGroup{documentID: r.DocumentID, filename: r.Filename})
		}
		groups[pos].passages = append(groups[pos].passages, r.Content)
	}
	return groups
}

// trimToBudget drops trailing source groups once the context exceeds the
// token budget. Whole groups are dropped, never single passages, so every
// surviving source keeps at least one passage in the prompt.
func (a *Agent) trimToBudget(groups []sourceGroup) []sourceGroup {
	total := 0
	for i, g := range groups {
		block := contextBlock(i+1, g)
		total += a.countTokens(block)
		if total > a.maxContextTokens && i > 0 {
			a.logger.Info("context budget reached", "kept_sources", i, "dropped_sources", len(groups)-i)
			return groups[:i]
		}
	}
	return groups
}

func contextBlock(n int, g sourceGroup) string {
	return fmt.Sprintf("--- SOURCE %d (File: %s) ---\n%s", n, g.filename, strings.Join(g.passages, "\n\n"))
}

func buildPrompt(query string, groups []sourceGroup) string {
	blocks := make([]string, len(groups))
	for i, g := range groups {
		blocks[i] = contextBlock(i+1, g)
	}

	var sb strings.Builder
	sb.WriteString("Context:\n")
	sb.WriteString(strings.Join(blocks, "\n\n"))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)
	sb.WriteString("\nAnswer:")
	return sb.String()
}

func (a *Agent) countTokens(text string) int {
	a.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			a.logger.Warn("tokenizer unavailable, falling back to byte estimate", "error", err)
			return
		}
		a.enc = enc
	})
	if a.enc == nil {
		// Rough 4-bytes-per-token estimate.
		return len(text) / 4
	}
	return len(a.enc.Encode(text, nil, nil))
}
