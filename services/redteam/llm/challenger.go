package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/AuctionSentry/services/redteam"
)

// promptMetadataLimit caps how much case metadata goes into a single
// challenge prompt. Everything past the first chunk is dropped; the
// producer outputs carry the load-bearing numbers anyway.
const promptMetadataLimit = 2000

// ModelChallenger implements redteam.Challenger on top of any LLMClient.
// Each challenge is one prompt and one completion; responses that fail
// to parse yield zero findings rather than an error, because a
// half-broken reviewer is still worth running.
type ModelChallenger struct {
	client   LLMClient
	splitter textsplitter.TextSplitter
}

// NewModelChallenger wraps an LLM client into a challenger.
func NewModelChallenger(client LLMClient) (*ModelChallenger, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client must not be nil")
	}
	return &ModelChallenger{
		client: client,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(promptMetadataLimit),
			textsplitter.WithChunkOverlap(0),
		),
	}, nil
}

// Challenge implements redteam.Challenger.
func (m *ModelChallenger) Challenge(ctx context.Context, category redteam.ChallengeCategory,
	cc redteam.ChallengeContext) ([]redteam.Finding, error) {

	ctx, span := tracer.Start(ctx, "ModelChallenger.Challenge")
	defer span.End()

	prompt, err := m.buildPrompt(category, cc)
	if err != nil {
		redteam.RecordChallengeFailure(ctx, category, "prompt_build")
		return nil, fmt.Errorf("building challenge prompt: %w", err)
	}

	temp := float32(0.2)
	maxTokens := 1024
	raw, err := m.client.Generate(ctx, prompt, GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		redteam.RecordChallengeFailure(ctx, category, "generate")
		return nil, fmt.Errorf("challenge %s: %w", category, err)
	}

	findings := parseFindings(raw)
	slog.Debug("Adversarial challenge completed", "category", category, "findings", len(findings))
	return findings, nil
}

// challengeQuestions holds the skeptical question set per category.
var challengeQuestions = map[redteam.ChallengeCategory]string{
	redteam.CategoryRightsSoundness: `Question the rights analysis:
- Could any registered right survive the auction that the analysis marks as extinguished?
- Is the reference right (말소기준권리) identified correctly given the registration dates?
- Could a tenant with opposing power (대항력) make the assumed liability larger than stated?`,

	redteam.CategoryValuationSoundness: `Question the valuation:
- Is the estimated market price consistent with the appraisal and the stated comparables?
- Does the price per pyung look plausible for this region and property type?
- Could the valuation be anchored on stale or cherry-picked comparable sales?`,

	redteam.CategoryStrategyRiskCoherence: `Question the bid strategy against the risk assessment:
- Is the recommended bid aggressive for the stated risk grade?
- Does the win probability square with the bid rate and the failed-auction count?
- Would the strategy still clear a profit if the assumed liability estimate is low?`,

	redteam.CategoryHiddenCosts: `Hunt for costs the profit estimate ignores:
- Eviction or move-out settlement costs when occupants are present.
- Repair or remodel costs for an aging building.
- Unpaid utility bills, management fees, or property taxes that transfer to the buyer.`,
}

// buildPrompt renders one challenge prompt: the question set, the
// producer outputs as JSON, and a bounded slice of case metadata.
func (m *ModelChallenger) buildPrompt(category redteam.ChallengeCategory,
	cc redteam.ChallengeContext) (string, error) {

	questions, ok := challengeQuestions[category]
	if !ok {
		return "", fmt.Errorf("unknown challenge category %q", category)
	}

	outputsJSON, err := json.MarshalIndent(cc.Outputs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling producer outputs: %w", err)
	}

	var b strings.Builder
	b.WriteString("Review the following court-auction analysis results.\n\n")
	b.WriteString(questions)
	b.WriteString("\n\nAnalysis results:\n")
	b.Write(outputsJSON)

	if meta := m.metadataExcerpt(cc.CaseMetadata); meta != "" {
		b.WriteString("\n\nCase metadata:\n")
		b.WriteString(meta)
	}

	b.WriteString("\n\nRespond with only a JSON object of the form ")
	b.WriteString(`{"findings": [{"finding_text": "...", "severity_hint": "warning"}]}. `)
	b.WriteString(`Use severity_hint "error" only for findings that invalidate a conclusion. `)
	b.WriteString("If nothing is wrong, return an empty findings list.")

	return b.String(), nil
}

// metadataExcerpt renders case metadata and truncates it to the first
// splitter chunk.
func (m *ModelChallenger) metadataExcerpt(meta map[string]any) string {
	if len(meta) == 0 {
		return ""
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return ""
	}
	if len(raw) <= promptMetadataLimit {
		return string(raw)
	}
	chunks, err := m.splitter.SplitText(string(raw))
	if err != nil || len(chunks) == 0 {
		return string(raw[:promptMetadataLimit])
	}
	return chunks[0]
}

// findingsEnvelope matches the JSON shape the prompt requests.
type findingsEnvelope struct {
	Findings []redteam.Finding `json:"findings"`
}

// parseFindings extracts findings from a model response. Models wrap
// JSON in prose and code fences often enough that this scans for the
// outermost object instead of unmarshaling the raw response.
func parseFindings(raw string) []redteam.Finding {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		slog.Warn("Adversarial response contained no JSON object")
		return nil
	}

	var envelope findingsEnvelope
	if err := json.Unmarshal([]byte(raw[start:end+1]), &envelope); err != nil {
		slog.Warn("Failed to parse adversarial response JSON", "error", err)
		return nil
	}

	findings := make([]redteam.Finding, 0, len(envelope.Findings))
	for _, f := range envelope.Findings {
		f.Text = strings.TrimSpace(f.Text)
		if f.Text == "" {
			continue
		}
		findings = append(findings, f)
	}
	return findings
}
