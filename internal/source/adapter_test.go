package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthRegistry_DegradesAfterConsecutiveFailures(t *testing.T) {
	h := NewHealthRegistry()

	assert.Equal(t, StatusAvailable, h.Status("PNCP"))

	h.RecordFailure("PNCP")
	h.RecordFailure("PNCP")
	assert.Equal(t, StatusAvailable, h.Status("PNCP"))

	h.RecordFailure("PNCP")
	assert.Equal(t, StatusDegraded, h.Status("PNCP"))

	h.RecordFailure("PNCP")
	h.RecordFailure("PNCP")
	assert.Equal(t, StatusUnavailable, h.Status("PNCP"))
	assert.True(t, h.IsDown("PNCP"))

	h.RecordSuccess("PNCP")
	assert.Equal(t, StatusAvailable, h.Status("PNCP"))
}

func TestMetadata_HasCapability(t *testing.T) {
	m := NewMetadata("Test Source", "TEST", "https://example.com", CapabilityFilterByUF)
	assert.True(t, m.HasCapability(CapabilityFilterByUF))
	assert.False(t, m.HasCapability(CapabilityRealTime))
}

func TestRegistry_DominantSourceIsLowestPriority(t *testing.T) {
	reg := NewRegistry(map[string]Adapter{
		"PNCP":           NewPNCPAdapter("https://pncp.gov.br/api/pncp", nil),
		"PORTAL_COMPRAS": NewPortalComprasAdapter("https://api.portaldecompraspublicas.com.br", nil),
	})

	dominant := reg.DominantSource()
	assert.Equal(t, "PNCP", dominant.Metadata().Code)
}
