package archive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjsasakifln/bidiq/internal/domain"
)

func TestToArchiveItem_CopiesCanonicalFields(t *testing.T) {
	p, err := domain.New(domain.UnifiedProcurement{
		SourceID: "123", SourceName: "PNCP", CNPJOrgao: "00000000000100",
		UF: "SP", Objeto: "aquisicao de uniformes", ValorEstimado: 5000,
	})
	require.NoError(t, err)

	archivedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	item := toArchiveItem("search-1", p, archivedAt)

	assert.Equal(t, "search-1", item.SearchID)
	assert.Equal(t, p.SourceID, item.SourceID)
	assert.Equal(t, p.DedupKey, item.DedupKey)
	assert.Equal(t, p.ValorEstimado, item.ValorEstimado)
	assert.Equal(t, archivedAt, item.ArchivedAt)
}
