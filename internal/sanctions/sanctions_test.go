package sanctions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseCEISRecord_ActiveWhenNoEndDate(t *testing.T) {
	raw := map[string]interface{}{
		"sancionado": map[string]interface{}{
			"nome":            "Empresa Teste LTDA",
			"codigoFormatado": "12.345.678/0001-00",
		},
		"tipo": map[string]interface{}{
			"descricaoResumida": "Inidoneidade",
		},
		"orgaoSancionador": map[string]interface{}{
			"nome": "Ministerio da Defesa",
		},
		"dataInicioSancao": "01/01/2024",
	}

	record := parseCEISRecord(raw)
	assert.Equal(t, "CEIS", record.Source)
	assert.Equal(t, "Empresa Teste LTDA", record.CompanyName)
	assert.True(t, record.IsActive)
	assert.True(t, record.EndDate.IsZero())
}

func TestParseCEISRecord_InactiveWhenEndDateInPast(t *testing.T) {
	raw := map[string]interface{}{
		"sancionado":       map[string]interface{}{"nome": "X"},
		"tipo":             map[string]interface{}{},
		"orgaoSancionador": map[string]interface{}{},
		"dataInicioSancao": "01/01/2020",
		"dataFinalSancao":  "01/01/2021",
	}

	record := parseCEISRecord(raw)
	assert.False(t, record.IsActive)
}

func TestParseCNEPRecord_ParsesFineAmount(t *testing.T) {
	raw := map[string]interface{}{
		"sancionado":       map[string]interface{}{"nome": "Y"},
		"tipoSancao":       map[string]interface{}{"descricaoResumida": "Multa"},
		"orgaoSancionador": map[string]interface{}{},
		"valorMulta":       float64(150000.50),
	}

	record := parseCNEPRecord(raw)
	assert.Equal(t, "CNEP", record.Source)
	assert.Equal(t, 150000.50, record.FineAmount)
}

func TestParseDate_HandlesBrazilianAndISOFormats(t *testing.T) {
	d1 := parseDate("15/03/2024")
	assert.Equal(t, 2024, d1.Year())
	assert.Equal(t, time.March, d1.Month())
	assert.Equal(t, 15, d1.Day())

	d2 := parseDate("2024-03-15")
	assert.Equal(t, 2024, d2.Year())

	d3 := parseDate("")
	assert.True(t, d3.IsZero())

	d4 := parseDate("not-a-date")
	assert.True(t, d4.IsZero())
}

func TestCleanCNPJ_StripsNonDigits(t *testing.T) {
	assert.Equal(t, "12345678000100", cleanCNPJ("12.345.678/0001-00"))
}

func TestChecker_CacheRoundTrip(t *testing.T) {
	c := NewChecker("", "", nil)
	result := Result{CNPJ: "12345678000100", IsSanctioned: true, CheckedAt: time.Now()}
	sealed, err := c.crypto.seal(result)
	assert.NoError(t, err)
	c.mu.Lock()
	c.cache["12345678000100"] = cacheEntry{sealed: sealed, cachedAt: time.Now()}
	c.mu.Unlock()

	cached, ok := c.fromCache("12345678000100")
	assert.True(t, ok)
	assert.True(t, cached.CacheHit)
	assert.True(t, cached.IsSanctioned)
}

func TestChecker_InvalidateCache(t *testing.T) {
	c := NewChecker("", "", nil)
	sealed, err := c.crypto.seal(Result{CNPJ: "12345678000100"})
	assert.NoError(t, err)
	c.mu.Lock()
	c.cache["12345678000100"] = cacheEntry{sealed: sealed, cachedAt: time.Now()}
	c.mu.Unlock()

	c.InvalidateCache("12.345.678/0001-00")

	_, ok := c.fromCache("12345678000100")
	assert.False(t, ok)
}

func TestChecker_CacheIsEncryptedAtRestWhenKeyConfigured(t *testing.T) {
	c := NewChecker("", "super-secret-passphrase", nil)
	result := Result{CNPJ: "12345678000100", IsSanctioned: true, CheckedAt: time.Now()}
	sealed, err := c.crypto.seal(result)
	assert.NoError(t, err)
	assert.NotContains(t, string(sealed), "12345678000100", "ciphertext must not leak the plaintext CNPJ")

	opened, err := c.crypto.open(sealed)
	assert.NoError(t, err)
	assert.Equal(t, result.CNPJ, opened.CNPJ)
	assert.True(t, opened.IsSanctioned)
}
