package filter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjsasakifln/bidiq/internal/domain"
)

type fakeArbiter struct {
	primaryResult  bool
	recoveryResult bool
}

func (a *fakeArbiter) ClassifyPrimaryMatch(ctx context.Context, objeto string, valor float64, sectorOrTerms, promptLevel string) (bool, error) {
	return a.primaryResult, nil
}

func (a *fakeArbiter) ClassifyRecovery(ctx context.Context, objeto string, valor float64, sectorOrTerms, rejectionReason string) (bool, error) {
	return a.recoveryResult, nil
}

type fakeSanctions struct {
	sanctioned  map[string]bool
	unavailable bool
}

func (s *fakeSanctions) IsSanctioned(ctx context.Context, cnpj string) (bool, bool) {
	return s.sanctioned[cnpj], s.unavailable
}

func mustItem(t *testing.T, p domain.UnifiedProcurement) *domain.UnifiedProcurement {
	t.Helper()
	rec, err := domain.New(p)
	require.NoError(t, err)
	return rec
}

func TestEngine_UFFilter(t *testing.T) {
	engine := NewEngine(nil, nil)
	items := []*domain.UnifiedProcurement{
		mustItem(t, domain.UnifiedProcurement{SourceID: "1", SourceName: "PNCP", CNPJOrgao: "00000000000100", UF: "SP", Objeto: "aquisição de equipamentos"}),
		mustItem(t, domain.UnifiedProcurement{SourceID: "2", SourceName: "PNCP", CNPJOrgao: "00000000000200", UF: "RJ", Objeto: "aquisição de equipamentos"}),
	}

	cfg := Config{UFs: map[string]struct{}{"SP": {}}}
	result, err := engine.Run(context.Background(), items, cfg)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "SP", result.Items[0].UF)
	assert.Equal(t, 1, result.Stats.RejectedUF)
}

func TestEngine_ExclusionListRejectsWithoutRecovery(t *testing.T) {
	engine := NewEngine(&fakeArbiter{recoveryResult: false}, nil)
	items := []*domain.UnifiedProcurement{
		mustItem(t, domain.UnifiedProcurement{SourceID: "1", SourceName: "PNCP", CNPJOrgao: "00000000000100", UF: "SP", Objeto: "locação de veículos usados"}),
	}
	cfg := Config{
		Sector: &Sector{Name: "vehicles", Keywords: []string{"veiculos"}, ExclusionKeywords: []string{"usados"}},
	}
	result, err := engine.Run(context.Background(), items, cfg)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
}

func TestEngine_ExclusionListRecoveredByArbiter(t *testing.T) {
	engine := NewEngine(&fakeArbiter{recoveryResult: true}, nil)
	items := []*domain.UnifiedProcurement{
		mustItem(t, domain.UnifiedProcurement{SourceID: "1", SourceName: "PNCP", CNPJOrgao: "00000000000100", UF: "SP", Objeto: "locação de veículos usados"}),
	}
	cfg := Config{
		Sector: &Sector{Name: "vehicles", Keywords: []string{"veiculos"}, ExclusionKeywords: []string{"usados"}},
	}
	result, err := engine.Run(context.Background(), items, cfg)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, 1, result.Stats.SynonymRecoveries)
}

func TestEngine_SanctionsFilterDropsSanctionedCNPJ(t *testing.T) {
	sanctions := &fakeSanctions{sanctioned: map[string]bool{"00000000000100": true}}
	engine := NewEngine(nil, sanctions)
	items := []*domain.UnifiedProcurement{
		mustItem(t, domain.UnifiedProcurement{SourceID: "1", SourceName: "PNCP", CNPJOrgao: "00000000000100", UF: "SP", Objeto: "serviços de limpeza"}),
	}
	cfg := Config{CheckSanctions: true}
	result, err := engine.Run(context.Background(), items, cfg)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, 1, result.Stats.SanctionsDropped)
}

func TestEngine_SanctionsFilterFailsOpenWhenUnavailable(t *testing.T) {
	sanctions := &fakeSanctions{sanctioned: map[string]bool{"00000000000100": true}, unavailable: true}
	engine := NewEngine(nil, sanctions)
	items := []*domain.UnifiedProcurement{
		mustItem(t, domain.UnifiedProcurement{SourceID: "1", SourceName: "PNCP", CNPJOrgao: "00000000000100", UF: "SP", Objeto: "serviços de limpeza"}),
	}
	cfg := Config{CheckSanctions: true}
	result, err := engine.Run(context.Background(), items, cfg)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
}

func TestEngine_ZeroResultRelaxationStartsWithMinMatch(t *testing.T) {
	engine := NewEngine(nil, nil)
	items := []*domain.UnifiedProcurement{
		mustItem(t, domain.UnifiedProcurement{SourceID: "1", SourceName: "PNCP", CNPJOrgao: "00000000000100", UF: "SP", Modalidade: 5, Objeto: "aquisição"}),
	}
	cfg := Config{
		Modalities:      map[int]struct{}{1: {}},
		AllowRelaxation: true,
	}
	result, err := engine.Run(context.Background(), items, cfg)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Contains(t, result.Stats.RelaxationsApplied, "min_match")
}

func TestEngine_OrderingByValueDesc(t *testing.T) {
	engine := NewEngine(nil, nil)
	items := []*domain.UnifiedProcurement{
		mustItem(t, domain.UnifiedProcurement{SourceID: "1", SourceName: "PNCP", CNPJOrgao: "00000000000100", UF: "SP", ValorEstimado: 100, Objeto: "obra"}),
		mustItem(t, domain.UnifiedProcurement{SourceID: "2", SourceName: "PNCP", CNPJOrgao: "00000000000200", UF: "SP", ValorEstimado: 500, Objeto: "obra"}),
	}
	cfg := Config{Ordering: OrderValueDesc}
	result, err := engine.Run(context.Background(), items, cfg)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, float64(500), result.Items[0].ValorEstimado)
}

func TestEngine_RelevanceDescOrdersByKeywordMatchDensity(t *testing.T) {
	engine := NewEngine(nil, nil)
	partial := mustItem(t, domain.UnifiedProcurement{
		SourceID: "1", SourceName: "PNCP", CNPJOrgao: "00000000000100", UF: "SP",
		Objeto: "aquisicao de uniforme escolar",
	})
	fullMatch := mustItem(t, domain.UnifiedProcurement{
		SourceID: "2", SourceName: "PNCP", CNPJOrgao: "00000000000200", UF: "SP",
		Objeto: "aquisicao de uniforme e tecido para confeccao escolar",
	})

	cfg := Config{
		CustomKeywords: []string{"uniforme", "tecido", "confeccao"},
		Ordering:       OrderRelevanceDesc,
	}
	result, err := engine.Run(context.Background(), []*domain.UnifiedProcurement{partial, fullMatch}, cfg)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "2", result.Items[0].SourceID, "item matching all 3 keywords should rank above the 1-of-3 match")
	assert.Equal(t, "1", result.Items[1].SourceID)
}

func TestEngine_UnparsableDeadlineSortsLast(t *testing.T) {
	engine := NewEngine(nil, nil)
	withDeadline := mustItem(t, domain.UnifiedProcurement{SourceID: "1", SourceName: "PNCP", CNPJOrgao: "00000000000100", UF: "SP", Objeto: "obra"})
	withDeadline.DataEncerramento = time.Now().Add(48 * time.Hour)
	noDeadline := mustItem(t, domain.UnifiedProcurement{SourceID: "2", SourceName: "PNCP", CNPJOrgao: "00000000000200", UF: "SP", Objeto: "obra"})

	cfg := Config{Ordering: OrderDeadlineAsc}
	result, err := engine.Run(context.Background(), []*domain.UnifiedProcurement{noDeadline, withDeadline}, cfg)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.False(t, result.Items[0].DataEncerramento.IsZero())
	assert.True(t, result.Items[1].DataEncerramento.IsZero())
}
