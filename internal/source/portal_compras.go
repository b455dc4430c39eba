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
	ambientresilience "github.com/tjsasakifln/bidiq/pkg/resilience"
)

// PortalComprasAdapter is the secondary source, lower priority than
// PNCP for dedup purposes and without native UF filtering (filtered
// client-side by the filter engine per SourceCapability).
type PortalComprasAdapter struct {
	httpClient *http.Client
	guard      *resilience.Guard
	log        *logger.Logger
	baseURL    string
}

func NewPortalComprasAdapter(baseURL string, log *logger.Logger) *PortalComprasAdapter {
	meta := PortalComprasMetadata()
	guardCfg := resilience.DefaultConfig(meta.Code)
	guardCfg.RateLimitRPS = meta.RateLimitRPS
	return &PortalComprasAdapter{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		guard:      resilience.NewGuard(guardCfg),
		log:        log,
		baseURL:    baseURL,
	}
}

func PortalComprasMetadata() Metadata {
	m := NewMetadata("Portal de Compras Públicas", "PORTAL_COMPRAS",
		"https://api.portaldecompraspublicas.com.br", CapabilityPagination, CapabilityFilterByKeyword)
	m.RateLimitRPS = 5
	m.TypicalResponseMS = 3000
	m.Priority = 2
	return m
}

func (a *PortalComprasAdapter) Metadata() Metadata {
	return PortalComprasMetadata()
}

func (a *PortalComprasAdapter) HealthCheck(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/status", nil)
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
	if resp.StatusCode < 500 {
		return StatusDegraded
	}
	return StatusUnavailable
}

func (a *PortalComprasAdapter) Fetch(ctx context.Context, q Query) ([]FetchedItem, error) {
	seen := make(map[string]struct{})
	var items []FetchedItem

	page := 1
	for page <= MaxPages {
		var pageItems []map[string]interface{}
		var hasNext bool

		err := a.guard.Do(ctx, func(ctx context.Context) error {
			body, err := a.fetchPage(ctx, q, page)
			if err != nil {
				return err
			}
			pageItems = body.Items
			hasNext = body.HasNext
			return nil
		})
		if err != nil {
			return items, fmt.Errorf("portal_compras fetch page=%d: %w", page, err)
		}

		for _, raw := range pageItems {
			id := fmt.Sprintf("%v", raw["id"])
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			items = append(items, FetchedItem{SourceID: id, Raw: raw})
		}

		if !hasNext || len(pageItems) == 0 {
			break
		}
		page++
	}

	return items, nil
}

func (a *PortalComprasAdapter) fetchPage(ctx context.Context, q Query, page int) (*pncpPage, error) {
	v := url.Values{}
	v.Set("page", fmt.Sprintf("%d", page))
	if q.Keyword != "" {
		v.Set("q", q.Keyword)
	}
	if !q.DataInicial.IsZero() {
		v.Set("start_date", q.DataInicial.Format("2006-01-02"))
	}
	if !q.DataFinal.IsZero() {
		v.Set("end_date", q.DataFinal.Format("2006-01-02"))
	}

	endpoint := a.baseURL + "/v1/tenders?" + v.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("portal_compras upstream status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, ambientresilience.MarkPermanent(fmt.Errorf("portal_compras upstream status %d", resp.StatusCode))
	}

	var payload struct {
		Results  []map[string]interface{} `json:"results"`
		NextPage *int                      `json:"next_page"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("portal_compras decode: %w", err)
	}

	return &pncpPage{
		Items:   payload.Results,
		HasNext: payload.NextPage != nil,
	}, nil
}

// NormalizePortalCompras converts a raw Portal de Compras item into the
// canonical domain record.
func NormalizePortalCompras(raw map[string]interface{}) (*domain.UnifiedProcurement, error) {
	get := func(k string) string {
		if v, ok := raw[k]; ok && v != nil {
			return fmt.Sprintf("%v", v)
		}
		return ""
	}

	valor, _ := domain.ParseMonetaryString(get("estimated_value"))

	p := domain.UnifiedProcurement{
		SourceID:      get("id"),
		SourceName:    "PORTAL_COMPRAS",
		Objeto:        strings.TrimSpace(get("description")),
		ValorEstimado: valor,
		Orgao:         get("organization_name"),
		CNPJOrgao:     get("organization_cnpj"),
		UF:            get("state"),
		Municipio:     get("city"),
		NumeroEdital:  get("tender_number"),
		Situacao:      get("status"),
		LinkPortal:    get("url"),
		RawData:       raw,
		Priority:      PortalComprasMetadata().Priority,
	}

	return domain.New(p)
}
