// Package sanctions queries the Portal da Transparência CEIS and CNEP
// federal sanctions registries for a CNPJ, merges both into a single
// tri-state verdict, and caches results for 24h.
//
// Grounded on original_source/backend/clients/sanctions.py; the HTTP
// client/resilience shape follows internal/source's adapters.
package sanctions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tjsasakifln/bidiq/internal/resilience"
	"github.com/tjsasakifln/bidiq/pkg/logger"
	"github.com/tjsasakifln/bidiq/pkg/tracer"
)

const (
	baseURL       = "https://api.portaldatransparencia.gov.br/api-de-dados"
	cacheTTL      = 24 * time.Hour
	maxPages      = 50
	requestTimeout = 30 * time.Second
)

// Record is a single sanction entry from CEIS or CNEP.
type Record struct {
	Source          string // "CEIS" | "CNEP"
	CNPJ            string
	CompanyName     string
	SanctionType    string
	StartDate       time.Time
	EndDate         time.Time // zero value means no end date (still active)
	SanctioningBody string
	LegalBasis      string
	FineAmount      float64 // CNEP only
	IsActive        bool
}

// Result is the aggregated CEIS+CNEP verdict for one CNPJ.
type Result struct {
	CNPJ        string
	IsSanctioned bool
	Sanctions   []Record
	CheckedAt   time.Time
	CEISCount   int
	CNEPCount   int
	CacheHit    bool
	Unavailable bool // true only if both upstream queries failed
}

// cacheEntry stores a sealed (encrypted, when ENCRYPTION_KEY is
// configured) cache payload rather than a plain Result, so cached
// CNPJ/company fields never sit in process memory as plaintext structs.
type cacheEntry struct {
	sealed   []byte
	cachedAt time.Time
}

// Checker queries both sanctions registries and caches aggregated
// results for 24h, keyed by cleaned CNPJ digits.
type Checker struct {
	httpClient *http.Client
	ceisGuard  *resilience.Guard
	cnepGuard  *resilience.Guard
	apiKey     string
	crypto     *cacheCrypto
	log        *logger.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewChecker builds a Checker. apiKey is sent as the chave-api-dados
// header on every request. encryptionKey, when non-empty, derives the
// at-rest key for the sanctions cache (SourcesConfig.EncryptionKey);
// left empty, the cache holds plaintext JSON as before.
func NewChecker(apiKey, encryptionKey string, log *logger.Logger) *Checker {
	ceisCfg := resilience.DefaultConfig("SANCTIONS_CEIS")
	ceisCfg.RateLimitRPS = 0.75 // ~90 req/min shared budget, split across CEIS/CNEP
	cnepCfg := resilience.DefaultConfig("SANCTIONS_CNEP")
	cnepCfg.RateLimitRPS = 0.75

	crypto, err := newCacheCrypto(encryptionKey)
	if err != nil {
		if log != nil {
			log.Error().Err(err).Msg("sanctions cache encryption key derivation failed, falling back to plaintext cache")
		}
		crypto = &cacheCrypto{}
	}

	return &Checker{
		httpClient: &http.Client{Timeout: requestTimeout},
		ceisGuard:  resilience.NewGuard(ceisCfg),
		cnepGuard:  resilience.NewGuard(cnepCfg),
		apiKey:     apiKey,
		crypto:     crypto,
		log:        log,
		cache:      make(map[string]cacheEntry),
	}
}

// Check aggregates CEIS + CNEP results for a CNPJ, serving from the 24h
// cache when available. Satisfies internal/filter.SanctionsChecker via
// IsSanctioned.
func (c *Checker) Check(ctx context.Context, cnpj string) Result {
	digits := cleanCNPJ(cnpj)
	if digits == "" {
		return Result{Unavailable: true}
	}

	ctx, span := tracer.Start(ctx, "sanctions.Check", attribute.String("cnpj", digits))
	defer span.End()

	if cached, ok := c.fromCache(digits); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached
	}

	var ceisRecords, cnepRecords []Record
	var ceisErr, cnepErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ceisRecords, ceisErr = c.checkCEIS(ctx, digits)
	}()
	go func() {
		defer wg.Done()
		cnepRecords, cnepErr = c.checkCNEP(ctx, digits)
	}()
	wg.Wait()

	unavailable := ceisErr != nil && cnepErr != nil
	all := append(ceisRecords, cnepRecords...)

	sanctioned := false
	for _, s := range all {
		if s.IsActive {
			sanctioned = true
			break
		}
	}

	result := Result{
		CNPJ:         digits,
		IsSanctioned: sanctioned,
		Sanctions:    all,
		CheckedAt:    time.Now().UTC(),
		CEISCount:    len(ceisRecords),
		CNEPCount:    len(cnepRecords),
		Unavailable:  unavailable,
	}

	if !unavailable {
		sealed, err := c.crypto.seal(result)
		if err != nil {
			if c.log != nil {
				c.log.Warn().Err(err).Str("cnpj", digits).Msg("failed to seal sanctions cache entry, skipping cache write")
			}
		} else {
			c.mu.Lock()
			c.cache[digits] = cacheEntry{sealed: sealed, cachedAt: time.Now()}
			c.mu.Unlock()
		}
	}

	return result
}

// IsSanctioned implements internal/filter.SanctionsChecker: it treats an
// unavailable verdict as "not sanctioned" (fail-open per spec.md §4.4
// layer 8).
func (c *Checker) IsSanctioned(ctx context.Context, cnpj string) (sanctioned bool, unavailable bool) {
	result := c.Check(ctx, cnpj)
	return result.IsSanctioned, result.Unavailable
}

func (c *Checker) fromCache(digits string) (Result, bool) {
	c.mu.Lock()
	entry, ok := c.cache[digits]
	if ok && time.Since(entry.cachedAt) >= cacheTTL {
		delete(c.cache, digits)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return Result{}, false
	}

	result, err := c.crypto.open(entry.sealed)
	if err != nil {
		if c.log != nil {
			c.log.Warn().Err(err).Str("cnpj", digits).Msg("failed to open sanctions cache entry, treating as cache miss")
		}
		return Result{}, false
	}
	result.CacheHit = true
	return result, true
}

// InvalidateCache drops the cached entry for a CNPJ, or clears the
// entire cache when cnpj is empty.
func (c *Checker) InvalidateCache(cnpj string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cnpj == "" {
		c.cache = make(map[string]cacheEntry)
		return
	}
	delete(c.cache, cleanCNPJ(cnpj))
}

func (c *Checker) checkCEIS(ctx context.Context, digits string) ([]Record, error) {
	raw, err := c.fetchAllPages(ctx, c.ceisGuard, "/ceis", digits)
	if err != nil {
		if c.log != nil {
			c.log.Warn().Str("cnpj", digits).Err(err).Msg("CEIS query failed")
		}
		return nil, err
	}
	records := make([]Record, 0, len(raw))
	for _, r := range raw {
		records = append(records, parseCEISRecord(r))
	}
	return records, nil
}

func (c *Checker) checkCNEP(ctx context.Context, digits string) ([]Record, error) {
	raw, err := c.fetchAllPages(ctx, c.cnepGuard, "/cnep", digits)
	if err != nil {
		if c.log != nil {
			c.log.Warn().Str("cnpj", digits).Err(err).Msg("CNEP query failed")
		}
		return nil, err
	}
	records := make([]Record, 0, len(raw))
	for _, r := range raw {
		records = append(records, parseCNEPRecord(r))
	}
	return records, nil
}

func (c *Checker) fetchAllPages(ctx context.Context, guard *resilience.Guard, path, digits string) ([]map[string]interface{}, error) {
	var all []map[string]interface{}

	for page := 1; page <= maxPages; page++ {
		var pageData []map[string]interface{}
		err := guard.Do(ctx, func(ctx context.Context) error {
			data, ferr := c.fetchPage(ctx, path, digits, page)
			if ferr != nil {
				return ferr
			}
			pageData = data
			return nil
		})
		if err != nil {
			return all, err
		}
		if len(pageData) == 0 {
			break
		}
		all = append(all, pageData...)
	}

	return all, nil
}

func (c *Checker) fetchPage(ctx context.Context, path, digits string, page int) ([]map[string]interface{}, error) {
	u := baseURL + path + "?" + url.Values{
		"codigoSancionado": {digits},
		"pagina":           {strconv.Itoa(page)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("chave-api-dados", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sanctions API %s: unexpected status %d", path, resp.StatusCode)
	}

	var records []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("sanctions API %s: decode failed: %w", path, err)
	}
	return records, nil
}

func parseCEISRecord(raw map[string]interface{}) Record {
	sancionado, _ := raw["sancionado"].(map[string]interface{})
	tipo, _ := raw["tipo"].(map[string]interface{})
	orgao, _ := raw["orgaoSancionador"].(map[string]interface{})
	fundamentacao, _ := raw["fundamentacao"].(map[string]interface{})

	start := parseDate(stringField(raw, "dataInicioSancao"))
	end := parseDate(stringField(raw, "dataFinalSancao"))

	return Record{
		Source:          "CEIS",
		CNPJ:            stringField(sancionado, "codigoFormatado"),
		CompanyName:     stringField(sancionado, "nome"),
		SanctionType:    stringField(tipo, "descricaoResumida"),
		StartDate:       start,
		EndDate:         end,
		SanctioningBody: stringField(orgao, "nome"),
		LegalBasis:      stringField(fundamentacao, "descricao"),
		IsActive:        end.IsZero() || end.After(time.Now()),
	}
}

func parseCNEPRecord(raw map[string]interface{}) Record {
	sancionado, _ := raw["sancionado"].(map[string]interface{})
	tipoSancao, _ := raw["tipoSancao"].(map[string]interface{})
	orgao, _ := raw["orgaoSancionador"].(map[string]interface{})
	fundamentacao, _ := raw["fundamentacao"].(map[string]interface{})

	start := parseDate(stringField(raw, "dataInicioSancao"))
	end := parseDate(stringField(raw, "dataFinalSancao"))

	var fine float64
	if v, ok := raw["valorMulta"]; ok && v != nil {
		switch n := v.(type) {
		case float64:
			fine = n
		case string:
			fine, _ = strconv.ParseFloat(n, 64)
		}
	}

	return Record{
		Source:          "CNEP",
		CNPJ:            stringField(sancionado, "codigoFormatado"),
		CompanyName:     stringField(sancionado, "nome"),
		SanctionType:    stringField(tipoSancao, "descricaoResumida"),
		StartDate:       start,
		EndDate:         end,
		SanctioningBody: stringField(orgao, "nome"),
		LegalBasis:      stringField(fundamentacao, "descricao"),
		FineAmount:      fine,
		IsActive:        end.IsZero() || end.After(time.Now()),
	}
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// parseDate handles Portal da Transparência's DD/MM/YYYY format, with an
// ISO fallback. Returns the zero time for empty/unparsable values.
func parseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{"02/01/2006", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func cleanCNPJ(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
