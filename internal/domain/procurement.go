// Package domain holds the canonical types the search pipeline operates
// on, independent of any single source adapter or persistence layer.
package domain

import (
	"crypto/md5"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ufPattern = regexp.MustCompile(`^[A-Z]{2}$`)

// UnifiedProcurement is the canonical record every source adapter
// normalizes into. It flows read-only through dedup, filtering, and
// ordering before being serialized into a search result.
type UnifiedProcurement struct {
	SourceID        string                 `json:"source_id"`
	SourceName      string                 `json:"source_name"`
	DedupKey        string                 `json:"dedup_key"`
	Objeto          string                 `json:"objeto"`
	ValorEstimado   float64                `json:"valor_estimado"`
	Orgao           string                 `json:"orgao"`
	CNPJOrgao       string                 `json:"cnpj_orgao"`
	UF              string                 `json:"uf"`
	Municipio       string                 `json:"municipio"`
	DataPublicacao  time.Time              `json:"data_publicacao"`
	DataAbertura    time.Time              `json:"data_abertura"`
	DataEncerramento time.Time             `json:"data_encerramento"`
	NumeroEdital    string                 `json:"numero_edital"`
	Ano             int                    `json:"ano"`
	Modalidade      int                    `json:"modalidade"`
	Situacao        string                 `json:"situacao"`
	Esfera          string                 `json:"esfera"`
	Poder           string                 `json:"poder"`
	LinkEdital      string                 `json:"link_edital"`
	LinkPortal      string                 `json:"link_portal"`
	FetchedAt       time.Time              `json:"fetched_at"`
	RawData         map[string]interface{} `json:"-"`

	// Priority carries the originating adapter's SourceMetadata.Priority,
	// used by the consolidation engine's dedup tie-breaking. It is not
	// part of the record's own identity or equality.
	Priority int `json:"-"`
}

// New constructs a UnifiedProcurement, normalizing the UF to upper-case
// and deriving DedupKey eagerly when not supplied — mirrors the
// dataclass-with-post-init-normalization pattern from the source this
// was distilled from, expressed here as a constructor.
func New(p UnifiedProcurement) (*UnifiedProcurement, error) {
	p.UF = strings.ToUpper(strings.TrimSpace(p.UF))
	if p.UF != "" && !ufPattern.MatchString(p.UF) {
		return nil, fmt.Errorf("invalid uf: %q", p.UF)
	}
	if p.ValorEstimado < 0 {
		return nil, fmt.Errorf("valor_estimado must be >= 0, got %f", p.ValorEstimado)
	}
	if p.SourceID == "" {
		return nil, fmt.Errorf("source_id is required")
	}
	if p.SourceName == "" {
		return nil, fmt.Errorf("source_name is required")
	}
	if p.FetchedAt.IsZero() {
		p.FetchedAt = time.Now().UTC()
	}
	if p.DedupKey == "" {
		p.DedupKey = deriveDedupKey(p)
	}
	return &p, nil
}

// deriveDedupKey computes the fallback dedup key:
// digits(cnpj):tender_number:year, or digits(cnpj):md5(objeto)[:12]:value
// when the tender number is unknown.
func deriveDedupKey(p UnifiedProcurement) string {
	cnpjDigits := digitsOnly(p.CNPJOrgao)
	if cnpjDigits == "" {
		return ""
	}
	if p.NumeroEdital != "" && p.Ano != 0 {
		return fmt.Sprintf("%s:%s:%d", cnpjDigits, p.NumeroEdital, p.Ano)
	}
	normalized := strings.ToLower(strings.TrimSpace(p.Objeto))
	sum := md5.Sum([]byte(normalized))
	hash := fmt.Sprintf("%x", sum)[:12]
	return fmt.Sprintf("%s:%s:%d", cnpjDigits, hash, int64(p.ValorEstimado))
}

func digitsOnly(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// CleanedCNPJOrgao returns the contracting agency's CNPJ with all
// non-digit characters stripped, the key format the sanctions service
// and the dedup key both expect.
func (p *UnifiedProcurement) CleanedCNPJOrgao() string {
	return digitsOnly(p.CNPJOrgao)
}

// ParseMonetaryString parses a Brazilian-formatted monetary string
// (thousands separated by '.', decimals by ',') into a float64, used
// by adapters normalizing raw upstream payloads.
func ParseMonetaryString(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	return strconv.ParseFloat(s, 64)
}
