package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tjsasakifln/bidiq/internal/domain"
	"github.com/tjsasakifln/bidiq/pkg/logger"
)

const (
	summaryMaxItems      = 50
	summaryObjetoTrunc   = 200
	summaryMaxTokens     = 1200
	summaryTemperature   = 0.3
	summaryUrgencyWindow = 24 * time.Hour
)

// Summary is the generate stage's output, persisted on the Search
// aggregate as resumo_executivo/destaques (spec.md §3).
//
// Grounded on original_source/backend/tests/test_llm.py's observable
// contract for schemas.ResumoLicitacoes (llm.py itself was not part of
// the retrieved source set).
type Summary struct {
	ResumoExecutivo    string   `json:"resumo_executivo"`
	TotalOportunidades int      `json:"total_oportunidades"`
	ValorTotal         float64  `json:"valor_total"`
	Destaques          []string `json:"destaques"`
	AlertaUrgencia     string   `json:"alerta_urgencia,omitempty"`
}

// SummaryConfig carries the generate stage's feature flag and model
// settings, mirroring internal/arbiter's Config shape.
type SummaryConfig struct {
	Enabled bool
	Model   string
}

// DefaultSummaryConfig mirrors the original's env-driven defaults
// (model gpt-4.1-nano, temperature 0.3, max_tokens 1200).
func DefaultSummaryConfig() SummaryConfig {
	return SummaryConfig{Enabled: true, Model: "gpt-4.1-nano"}
}

// Summarizer generates the search's executive summary via an LLM,
// falling back to a deterministic templated summary when disabled or
// on any API error — the generate stage must never fail the pipeline,
// only degrade the quality of resumo_executivo.
//
// Excel generation (the other half of spec.md §4.11's "generate" stage)
// is explicitly out of scope (spec.md §1's Non-goals) and is not
// implemented here.
type Summarizer struct {
	openai *openai.Client
	cfg    SummaryConfig
	log    *logger.Logger
}

// NewSummarizer builds a Summarizer. apiKey may be empty when Enabled
// is false.
func NewSummarizer(apiKey string, cfg SummaryConfig, log *logger.Logger) *Summarizer {
	return &Summarizer{openai: openai.NewClient(apiKey), cfg: cfg, log: log}
}

// Generate produces the executive summary for a filtered result set.
// Never returns an error — any LLM failure degrades to the
// deterministic fallback rather than failing the search.
func (s *Summarizer) Generate(ctx context.Context, items []*domain.UnifiedProcurement, sectorOrTerms string) *Summary {
	if len(items) == 0 {
		return &Summary{ResumoExecutivo: "Nenhuma licitação encontrada para os critérios informados."}
	}

	if !s.cfg.Enabled {
		if s.log != nil {
			s.log.Warn().Msg("llm summarizer disabled, using deterministic summary")
		}
		return deterministicSummary(items, sectorOrTerms)
	}

	summary, err := s.callLLM(ctx, items, sectorOrTerms)
	if err != nil {
		if s.log != nil {
			s.log.Error().Err(err).Msg("llm summary generation failed, falling back to deterministic summary")
		}
		return deterministicSummary(items, sectorOrTerms)
	}
	return summary
}

func (s *Summarizer) callLLM(ctx context.Context, items []*domain.UnifiedProcurement, sectorOrTerms string) (*Summary, error) {
	limited := items
	if len(limited) > summaryMaxItems {
		limited = limited[:summaryMaxItems]
	}

	systemPrompt := "Você é um analista de licitações públicas brasileiras. " +
		"Gere um resumo executivo conciso e destaques relevantes. " +
		"Responda APENAS com um objeto JSON com os campos: " +
		`resumo_executivo (string), total_oportunidades (int), valor_total (number), ` +
		`destaques (array de strings), alerta_urgencia (string ou null).`

	userPrompt := buildSummaryPrompt(limited, len(items), sectorOrTerms)

	resp, err := s.openai.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxTokens:   summaryMaxTokens,
		Temperature: summaryTemperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm summarizer: empty response")
	}

	var summary Summary
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &summary); err != nil {
		return nil, fmt.Errorf("llm summarizer: malformed json response: %w", err)
	}
	return &summary, nil
}

func buildSummaryPrompt(limited []*domain.UnifiedProcurement, totalCount int, sectorOrTerms string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Setor/termos: %s\nTotal de licitações: %d\n\n", sectorOrTerms, totalCount)
	for i, item := range limited {
		fmt.Fprintf(&sb, "%d. Órgão: %s | UF: %s | Valor: R$ %.2f | Objeto: %s\n",
			i+1, item.Orgao, item.UF, item.ValorEstimado, truncate(item.Objeto, summaryObjetoTrunc))
	}
	return sb.String()
}

// deterministicSummary builds a summary from simple aggregate stats
// (count, total value, top-3 by value, deadline urgency window) when
// the LLM path is disabled or failed.
func deterministicSummary(items []*domain.UnifiedProcurement, sectorOrTerms string) *Summary {
	var total float64
	urgent := 0
	now := time.Now()

	sorted := make([]*domain.UnifiedProcurement, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ValorEstimado > sorted[j].ValorEstimado })

	for _, item := range items {
		total += item.ValorEstimado
		if !item.DataEncerramento.IsZero() && item.DataEncerramento.After(now) && item.DataEncerramento.Before(now.Add(summaryUrgencyWindow)) {
			urgent++
		}
	}

	destaques := make([]string, 0, 3)
	for i := 0; i < len(sorted) && i < 3; i++ {
		destaques = append(destaques, fmt.Sprintf("%s: R$ %.2f", sorted[i].Orgao, sorted[i].ValorEstimado))
	}

	summary := &Summary{
		ResumoExecutivo:    fmt.Sprintf("Encontradas %d licitações para %s, totalizando R$ %.2f.", len(items), sectorOrTerms, total),
		TotalOportunidades: len(items),
		ValorTotal:         total,
		Destaques:          destaques,
	}
	if urgent > 0 {
		summary.AlertaUrgencia = fmt.Sprintf("⚠️ %d licitações encerram em 24 horas", urgent)
	}
	return summary
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
