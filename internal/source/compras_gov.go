package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tjsasakifln/bidiq/internal/domain"
	"github.com/tjsasakifln/bidiq/internal/resilience"
	"github.com/tjsasakifln/bidiq/pkg/logger"
)

// ComprasGovAdapter is a minimal third adapter demonstrating the
// SourceAdapter framework scales past two sources, as spec.md's
// source-registry model implies. cmd/search-service registers it as a
// regular fan-out source alongside PNCP and Portal de Compras, and passes
// no last-resort fallback adapter to the consolidation engine.
type ComprasGovAdapter struct {
	httpClient *http.Client
	guard      *resilience.Guard
	log        *logger.Logger
	baseURL    string
}

func NewComprasGovAdapter(baseURL string, log *logger.Logger) *ComprasGovAdapter {
	meta := ComprasGovMetadata()
	guardCfg := resilience.DefaultConfig(meta.Code)
	guardCfg.RateLimitRPS = meta.RateLimitRPS
	return &ComprasGovAdapter{
		httpClient: &http.Client{Timeout: 40 * time.Second},
		guard:      resilience.NewGuard(guardCfg),
		log:        log,
		baseURL:    baseURL,
	}
}

func ComprasGovMetadata() Metadata {
	m := NewMetadata("Compras.gov.br", "COMPRAS_GOV",
		"https://compras.dados.gov.br", CapabilityPagination)
	m.RateLimitRPS = 5
	m.TypicalResponseMS = 2000
	m.Priority = 3
	return m
}

func (a *ComprasGovAdapter) Metadata() Metadata {
	return ComprasGovMetadata()
}

func (a *ComprasGovAdapter) HealthCheck(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/licitacoes.json", nil)
	if err != nil {
		return StatusUnavailable
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return StatusUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		return StatusAvailable
	}
	return StatusDegraded
}

func (a *ComprasGovAdapter) Fetch(ctx context.Context, q Query) ([]FetchedItem, error) {
	var items []FetchedItem

	err := a.guard.Do(ctx, func(ctx context.Context) error {
		v := url.Values{}
		if !q.DataInicial.IsZero() {
			v.Set("data_abertura_min", q.DataInicial.Format("2006-01-02"))
		}
		if !q.DataFinal.IsZero() {
			v.Set("data_abertura_max", q.DataFinal.Format("2006-01-02"))
		}
		v.Set("formato", "json")

		endpoint := a.baseURL + "/licitacoes.json?" + v.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("compras_gov upstream status %d", resp.StatusCode)
		}

		var payload struct {
			Items []map[string]interface{} `json:"_embedded,omitempty"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)

		for i, raw := range payload.Items {
			id := fmt.Sprintf("%v", raw["id"])
			if id == "<nil>" || id == "" {
				id = fmt.Sprintf("compras_gov:%d", i)
			}
			items = append(items, FetchedItem{SourceID: id, Raw: raw})
		}
		return nil
	})

	return items, err
}

// NormalizeComprasGov converts a raw Compras.gov.br item into the
// canonical domain record.
func NormalizeComprasGov(raw map[string]interface{}) (*domain.UnifiedProcurement, error) {
	get := func(k string) string {
		if v, ok := raw[k]; ok && v != nil {
			return fmt.Sprintf("%v", v)
		}
		return ""
	}

	valor, _ := domain.ParseMonetaryString(get("valor_estimado"))

	p := domain.UnifiedProcurement{
		SourceID:      get("id"),
		SourceName:    "COMPRAS_GOV",
		Objeto:        strings.TrimSpace(get("objeto")),
		ValorEstimado: valor,
		Orgao:         get("orgao_nome"),
		CNPJOrgao:     get("orgao_cnpj"),
		UF:            get("uf"),
		NumeroEdital:  get("numero"),
		RawData:       raw,
		Priority:      ComprasGovMetadata().Priority,
	}

	return domain.New(p)
}
