package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tjsasakifln/bidiq/internal/domain"
	"github.com/tjsasakifln/bidiq/internal/resilience"
	"github.com/tjsasakifln/bidiq/pkg/logger"
	ambientresilience "github.com/tjsasakifln/bidiq/pkg/resilience"
)

// PNCPAdapter queries the Portal Nacional de Contratações Públicas, the
// primary (highest-priority) source. Spec.md's Design Notes flag
// adapters as templates whose exact upstream parameter names must be
// confirmed before shipping; this adapter's query parameter names are
// written defensively for that reason and are not to be treated as
// verified against the live PNCP API.
type PNCPAdapter struct {
	httpClient *http.Client
	guard      *resilience.Guard
	log        *logger.Logger
	baseURL    string
}

// NewPNCPAdapter builds the PNCP adapter with its declared capabilities
// and a dedicated resilience Guard sized to its rate_limit_rps.
func NewPNCPAdapter(baseURL string, log *logger.Logger) *PNCPAdapter {
	meta := PNCPMetadata()
	guardCfg := resilience.DefaultConfig(meta.Code)
	guardCfg.RateLimitRPS = meta.RateLimitRPS
	return &PNCPAdapter{
		httpClient: &http.Client{Timeout: 90 * time.Second},
		guard:      resilience.NewGuard(guardCfg),
		log:        log,
		baseURL:    baseURL,
	}
}

// PNCPMetadata returns PNCP's static SourceMetadata, priority 1 (highest).
func PNCPMetadata() Metadata {
	m := NewMetadata("PNCP", "PNCP", "https://pncp.gov.br/api/pncp",
		CapabilityFilterByUF, CapabilityPagination, CapabilityDateRange)
	m.DocumentationURL = "https://pncp.gov.br/api/pncp/swagger-ui/index.html"
	m.RateLimitRPS = 8
	m.TypicalResponseMS = 2500
	m.Priority = 1
	return m
}

func (a *PNCPAdapter) Metadata() Metadata {
	return PNCPMetadata()
}

func (a *PNCPAdapter) HealthCheck(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/orgaos", nil)
	if err != nil {
		return StatusUnavailable
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return StatusUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return StatusAvailable
	case resp.StatusCode < 500:
		return StatusDegraded
	default:
		return StatusUnavailable
	}
}

// Fetch walks PNCP's paginated contracts endpoint per UF (PNCP supports
// server-side UF and date-range filtering), up to MaxPages per UF.
func (a *PNCPAdapter) Fetch(ctx context.Context, q Query) ([]FetchedItem, error) {
	ufs := q.UFs
	if len(ufs) == 0 {
		ufs = []string{""}
	}

	seen := make(map[string]struct{})
	var items []FetchedItem

	for _, uf := range ufs {
		page := 1
		for page <= MaxPages {
			var pageItems []map[string]interface{}
			var hasNext bool

			err := a.guard.Do(ctx, func(ctx context.Context) error {
				body, err := a.fetchPage(ctx, uf, q, page)
				if err != nil {
					return err
				}
				pageItems = body.Items
				hasNext = body.HasNext
				return nil
			})
			if err != nil {
				return items, fmt.Errorf("pncp fetch uf=%s page=%d: %w", uf, page, err)
			}

			for _, raw := range pageItems {
				id := fmt.Sprintf("%v", raw["numeroControlePNCP"])
				if id == "" || id == "<nil>" {
					id = fmt.Sprintf("%v:%d", uf, page)
				}
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
	}

	return items, nil
}

type pncpPage struct {
	Items   []map[string]interface{}
	HasNext bool
}

func (a *PNCPAdapter) fetchPage(ctx context.Context, uf string, q Query, page int) (*pncpPage, error) {
	v := url.Values{}
	v.Set("pagina", strconv.Itoa(page))
	v.Set("tamanhoPagina", "50")
	if uf != "" {
		v.Set("uf", uf)
	}
	if !q.DataInicial.IsZero() {
		v.Set("dataInicial", q.DataInicial.Format("20060102"))
	}
	if !q.DataFinal.IsZero() {
		v.Set("dataFinal", q.DataFinal.Format("20060102"))
	}

	endpoint := a.baseURL + "/v1/contratacoes/publicacao?" + v.Encode()
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
		return nil, fmt.Errorf("pncp upstream status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, ambientresilience.MarkPermanent(fmt.Errorf("pncp upstream status %d", resp.StatusCode))
	}

	var payload struct {
		Data           []map[string]interface{} `json:"data"`
		TotalPaginas   int                       `json:"totalPaginas"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("pncp decode: %w", err)
	}

	return &pncpPage{
		Items:   payload.Data,
		HasNext: page < payload.TotalPaginas,
	}, nil
}

// NormalizePNCP converts a raw PNCP payload item into the canonical
// domain record.
func NormalizePNCP(raw map[string]interface{}) (*domain.UnifiedProcurement, error) {
	get := func(k string) string {
		if v, ok := raw[k]; ok && v != nil {
			return fmt.Sprintf("%v", v)
		}
		return ""
	}

	valor, _ := domain.ParseMonetaryString(get("valorTotalEstimado"))

	p := domain.UnifiedProcurement{
		SourceID:     get("numeroControlePNCP"),
		SourceName:   "PNCP",
		Objeto:       strings.TrimSpace(get("objetoCompra")),
		ValorEstimado: valor,
		Orgao:        get("orgaoEntidadeRazaoSocial"),
		CNPJOrgao:    get("orgaoEntidadeCnpj"),
		UF:           get("unidadeOrgaoUfSigla"),
		Municipio:    get("unidadeOrgaoMunicipioNome"),
		NumeroEdital: get("numeroCompra"),
		Modalidade:   atoiOrZero(get("modalidadeId")),
		Situacao:     get("situacaoCompraNome"),
		Esfera:       get("orgaoEntidadeEsferaNome"),
		Poder:        get("orgaoEntidadePoderNome"),
		LinkPortal:   get("linkSistemaOrigem"),
		RawData:      raw,
		Priority:     PNCPMetadata().Priority,
	}
	if year := get("anoCompra"); year != "" {
		p.Ano = atoiOrZero(year)
	}

	return domain.New(p)
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
