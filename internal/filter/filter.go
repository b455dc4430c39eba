// Package filter implements the ordered filtering/relevance pipeline
// that narrows a deduplicated bid stream down to the items relevant to
// a search's sector or custom keyword set.
//
// Grounded on spec.md §4.4; the ten layers run in the order the spec
// prescribes, with the uncertain-zone and synonym-recovery decisions
// delegated to the LLM arbiter (internal/arbiter) via the Arbiter
// interface, and the sanctions check delegated via the SanctionsChecker
// interface (internal/sanctions) so this package has no import cycle
// on either.
package filter

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/tjsasakifln/bidiq/internal/domain"
)

// Arbiter classifies an ambiguous bid. Implemented by internal/arbiter.
type Arbiter interface {
	ClassifyPrimaryMatch(ctx context.Context, objeto string, valor float64, sectorOrTerms string, promptLevel string) (bool, error)
	ClassifyRecovery(ctx context.Context, objeto string, valor float64, sectorOrTerms, rejectionReason string) (bool, error)
}

// SanctionsChecker reports whether a CNPJ is currently sanctioned.
// "unavailable" (the third of the tri-state result) is treated as "not
// sanctioned" by this package — fail-open per spec.md §4.4 layer 8.
type SanctionsChecker interface {
	IsSanctioned(ctx context.Context, cnpj string) (sanctioned bool, unavailable bool)
}

// Sector carries the keyword dictionary used by the keyword and synonym
// layers.
type Sector struct {
	Name             string
	Keywords         []string
	ExclusionKeywords []string
	Synonyms         map[string][]string // canonical keyword -> synonyms
}

// Ordering is the final ordering mode.
type Ordering string

const (
	OrderRelevanceDesc Ordering = "relevance_desc"
	OrderDateDesc      Ordering = "date_desc"
	OrderDateAsc       Ordering = "date_asc"
	OrderValueDesc     Ordering = "value_desc"
	OrderValueAsc      Ordering = "value_asc"
	OrderDeadlineAsc   Ordering = "deadline_asc"
)

// Config is a single search's filter configuration.
type Config struct {
	UFs               map[string]struct{}
	Modalities        map[int]struct{}
	ValorMin          float64
	ValorMax          float64
	Status            map[string]struct{}
	Esferas           map[string]struct{}
	Municipios        map[string]struct{}
	OpenOnly          bool
	Sector            *Sector
	CustomKeywords    []string
	MinMatch          int
	HideBelowMinMatch bool
	CheckSanctions    bool
	Ordering          Ordering
	AllowRelaxation   bool

	// structurally rejected modality codes never reach the filter; the
	// caller (the pipeline orchestrator, at schema-validation time) must
	// already have excluded codes 9 and 14 from Modalities.
}

// Stats counts rejections by layer plus the derived counters.
type Stats struct {
	RejectedUF           int
	RejectedModality     int
	RejectedValue        int
	RejectedStatus       int
	RejectedDeadline     int
	HiddenByMinMatch     int
	SynonymRecoveries    int
	LLMApproved          int
	LLMRejected          int
	SanctionsDropped     int
	RelaxationsApplied   []string
}

// Result is the filter engine's output: an ordered subset plus stats.
type Result struct {
	Items []*domain.UnifiedProcurement
	Stats Stats
}

const (
	uncertainLow  = 0.01
	uncertainHigh = 0.08
	conservativeHigh = 0.03
	similarityThreshold = 0.8
)

// relaxationOrder is the fixed order layer 9 relaxes filters in.
var relaxationOrder = []string{"min_match", "exclusion_list", "modality", "value_range"}

// Engine runs the filter pipeline.
type Engine struct {
	arbiter   Arbiter
	sanctions SanctionsChecker
}

// NewEngine builds a filter Engine. Either dependency may be nil —
// ClassifyPrimaryMatch/IsSanctioned calls are simply skipped (defaulting
// conservatively) when so.
func NewEngine(arbiter Arbiter, sanctions SanctionsChecker) *Engine {
	return &Engine{arbiter: arbiter, sanctions: sanctions}
}

// Run executes the 10-layer filter pipeline against items.
func (e *Engine) Run(ctx context.Context, items []*domain.UnifiedProcurement, cfg Config) (*Result, error) {
	stats := Stats{}
	relaxed := map[string]bool{}

	var surviving []*domain.UnifiedProcurement
	var scores map[*domain.UnifiedProcurement]float64
	for {
		surviving, scores = e.applyLayers(ctx, items, cfg, &stats, relaxed)
		if len(surviving) > 0 || !cfg.AllowRelaxation || len(relaxed) >= len(relaxationOrder) {
			break
		}
		for _, name := range relaxationOrder {
			if !relaxed[name] {
				relaxed[name] = true
				stats.RelaxationsApplied = append(stats.RelaxationsApplied, name)
				break
			}
		}
	}

	ordered := order(surviving, cfg.Ordering, scores)

	return &Result{Items: ordered, Stats: stats}, nil
}

// applyLayers runs layers 1-8 once (layer 9's relaxation loop lives in
// Run; layer 10's ordering is applied by the caller after this returns).
// The returned map carries each surviving item's relevance score (layer
// 10's OrderRelevanceDesc input), keyed by pointer identity.
func (e *Engine) applyLayers(ctx context.Context, items []*domain.UnifiedProcurement, cfg Config, stats *Stats, relaxed map[string]bool) ([]*domain.UnifiedProcurement, map[*domain.UnifiedProcurement]float64) {
	out := make([]*domain.UnifiedProcurement, 0, len(items))
	scores := make(map[*domain.UnifiedProcurement]float64, len(items))

	for _, item := range items {
		if len(cfg.UFs) > 0 {
			if _, ok := cfg.UFs[item.UF]; !ok {
				stats.RejectedUF++
				continue
			}
		}

		if len(cfg.Modalities) > 0 && !relaxed["modality"] {
			if _, ok := cfg.Modalities[item.Modalidade]; !ok {
				stats.RejectedModality++
				continue
			}
		}

		valorMin, valorMax := cfg.ValorMin, cfg.ValorMax
		if relaxed["value_range"] {
			valorMin, valorMax = 0, 0
		}
		if valorMax > 0 && (item.ValorEstimado < valorMin || item.ValorEstimado > valorMax) {
			stats.RejectedValue++
			continue
		}

		if len(cfg.Status) > 0 {
			if _, ok := cfg.Status[item.Situacao]; !ok {
				stats.RejectedStatus++
				continue
			}
		}
		if len(cfg.Esferas) > 0 {
			if _, ok := cfg.Esferas[item.Esfera]; !ok {
				stats.RejectedStatus++
				continue
			}
		}
		if len(cfg.Municipios) > 0 {
			if _, ok := cfg.Municipios[item.Municipio]; !ok {
				stats.RejectedStatus++
				continue
			}
		}

		if cfg.OpenOnly && !item.DataEncerramento.IsZero() && item.DataEncerramento.Before(time.Now()) {
			stats.RejectedDeadline++
			continue
		}

		accepted, score := e.keywordAndSynonymLayers(ctx, item, cfg, stats, relaxed)
		if !accepted {
			continue
		}

		if cfg.CheckSanctions && e.sanctions != nil && item.CNPJOrgao != "" {
			sanctioned, unavailable := e.sanctions.IsSanctioned(ctx, item.CleanedCNPJOrgao())
			if sanctioned && !unavailable {
				stats.SanctionsDropped++
				continue
			}
		}

		out = append(out, item)
		scores[item] = score
	}

	return out, scores
}

// keywordAndSynonymLayers implements spec.md §4.4 layers 6-7: keyword
// density scoring, uncertain-zone arbiter delegation, and synonym
// recovery for exclusion/near-miss rejections.
// The returned score is layer 10's relevance input: matched canonical
// terms over total search terms (spec.md §4.4 layer 10), used by
// OrderRelevanceDesc in place of the date-desc fallback it used to
// silently collapse into.
func (e *Engine) keywordAndSynonymLayers(ctx context.Context, item *domain.UnifiedProcurement, cfg Config, stats *Stats, relaxed map[string]bool) (bool, float64) {
	keywords := cfg.CustomKeywords
	var exclusions []string
	sectorName := "custom"
	if cfg.Sector != nil {
		keywords = cfg.Sector.Keywords
		exclusions = cfg.Sector.ExclusionKeywords
		sectorName = cfg.Sector.Name
	}

	if len(keywords) == 0 && cfg.Sector == nil {
		// no keyword/sector constraint was requested: this layer passes
		// every item through untouched, with no relevance signal to offer.
		return true, 0
	}

	tokens := tokenize(item.Objeto)
	hits := countMatches(tokens, keywords)
	exclusionHits := countMatches(tokens, exclusions)
	score := relevanceScore(hits, len(keywords))

	if exclusionHits > 0 && !relaxed["exclusion_list"] {
		if e.arbiter != nil {
			recovered, _ := e.arbiter.ClassifyRecovery(ctx, item.Objeto, item.ValorEstimado, sectorName, "exclusion_keyword_matched")
			if recovered {
				stats.SynonymRecoveries++
				return true, score
			}
		}
		return false, 0
	}

	density := 0.0
	if len(tokens) > 0 {
		density = float64(hits) / float64(len(tokens))
	}

	minMatch := cfg.MinMatch
	if relaxed["min_match"] {
		minMatch = 0
	}

	if hits >= minMatch && hits > 0 {
		if density >= uncertainLow && density <= uncertainHigh {
			promptLevel := "standard"
			if density <= conservativeHigh {
				promptLevel = "conservative"
			}
			approved := false
			if e.arbiter != nil {
				approved, _ = e.arbiter.ClassifyPrimaryMatch(ctx, item.Objeto, item.ValorEstimado, sectorName, promptLevel)
			}
			if approved {
				stats.LLMApproved++
				return true, score
			}
			stats.LLMRejected++
			return false, 0
		}
		return true, score
	}

	if hits > 0 && cfg.HideBelowMinMatch {
		stats.HiddenByMinMatch++
		return false, 0
	}

	// Layer 7: synonym expansion when the keyword layer produced zero or
	// too-few results.
	if cfg.Sector != nil && len(cfg.Sector.Synonyms) > 0 {
		canonicalMatches := matchSynonyms(item.Objeto, cfg.Sector.Synonyms)
		synonymScore := relevanceScore(canonicalMatches, len(keywords))
		if canonicalMatches >= 2 {
			stats.SynonymRecoveries++
			return true, synonymScore
		}
		if canonicalMatches == 1 && e.arbiter != nil {
			recovered, _ := e.arbiter.ClassifyRecovery(ctx, item.Objeto, item.ValorEstimado, sectorName, "near_miss_synonym")
			if recovered {
				stats.SynonymRecoveries++
				return true, synonymScore
			}
		}
	}

	if hits > 0 {
		return true, score
	}

	return false, 0
}

// relevanceScore is the fraction of a sector or custom keyword
// dictionary matched by an item: matched canonical terms divided by
// total search terms.
func relevanceScore(hits, totalTerms int) float64 {
	if totalTerms == 0 {
		return 0
	}
	return float64(hits) / float64(totalTerms)
}

func tokenize(s string) []string {
	normalized := stripAccents(strings.ToLower(s))
	return strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func countMatches(tokens []string, keywords []string) int {
	if len(keywords) == 0 {
		return 0
	}
	tokenSet := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = struct{}{}
	}
	count := 0
	for _, kw := range keywords {
		kwTokens := tokenize(kw)
		matched := true
		for _, kt := range kwTokens {
			if _, ok := tokenSet[kt]; !ok {
				matched = false
				break
			}
		}
		if matched && len(kwTokens) > 0 {
			count++
		}
	}
	return count
}

// matchSynonyms counts distinct canonical keywords matched via exact or
// fuzzy (LCS-ratio >= similarityThreshold) synonym match.
func matchSynonyms(objeto string, synonyms map[string][]string) int {
	normalized := stripAccents(strings.ToLower(objeto))
	matched := 0
	for _, syns := range synonyms {
		for _, syn := range syns {
			synNorm := stripAccents(strings.ToLower(syn))
			if strings.Contains(normalized, synNorm) {
				matched++
				break
			}
			if lcsRatio(normalized, synNorm) >= similarityThreshold {
				matched++
				break
			}
		}
	}
	return matched
}

// lcsRatio returns the longest-common-subsequence length divided by the
// length of the longer string.
func lcsRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	la, lb := len(a), len(b)
	dp := make([][]int, la+1)
	for i := range dp {
		dp[i] = make([]int, lb+1)
	}
	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] > dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}
	longer := la
	if lb > longer {
		longer = lb
	}
	return float64(dp[la][lb]) / float64(longer)
}

func stripAccents(s string) string {
	replacer := strings.NewReplacer(
		"á", "a", "à", "a", "ã", "a", "â", "a", "ä", "a",
		"é", "e", "è", "e", "ê", "e", "ë", "e",
		"í", "i", "ì", "i", "î", "i", "ï", "i",
		"ó", "o", "ò", "o", "õ", "o", "ô", "o", "ö", "o",
		"ú", "u", "ù", "u", "û", "u", "ü", "u",
		"ç", "c",
	)
	return replacer.Replace(s)
}

func order(items []*domain.UnifiedProcurement, mode Ordering, scores map[*domain.UnifiedProcurement]float64) []*domain.UnifiedProcurement {
	out := make([]*domain.UnifiedProcurement, len(items))
	copy(out, items)

	switch mode {
	case OrderDateDesc:
		sort.SliceStable(out, func(i, j int) bool { return dateLess(out[j].DataPublicacao, out[i].DataPublicacao) })
	case OrderDateAsc:
		sort.SliceStable(out, func(i, j int) bool { return dateLess(out[i].DataPublicacao, out[j].DataPublicacao) })
	case OrderValueDesc:
		sort.SliceStable(out, func(i, j int) bool { return out[j].ValorEstimado < out[i].ValorEstimado })
	case OrderValueAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].ValorEstimado < out[j].ValorEstimado })
	case OrderDeadlineAsc:
		sort.SliceStable(out, func(i, j int) bool { return dateLess(out[i].DataEncerramento, out[j].DataEncerramento) })
	default: // OrderRelevanceDesc and unset: relevance score desc, date desc as tie-break
		sort.SliceStable(out, func(i, j int) bool {
			si, sj := scores[out[i]], scores[out[j]]
			if si != sj {
				return si > sj
			}
			return dateLess(out[j].DataPublicacao, out[i].DataPublicacao)
		})
	}
	return out
}

// dateLess sorts zero/unparsable dates last regardless of direction.
func dateLess(a, b time.Time) bool {
	if a.IsZero() && b.IsZero() {
		return false
	}
	if a.IsZero() {
		return false
	}
	if b.IsZero() {
		return true
	}
	return a.Before(b)
}
