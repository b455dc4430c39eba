package consolidation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjsasakifln/bidiq/internal/domain"
	"github.com/tjsasakifln/bidiq/internal/source"
)

type fakeAdapter struct {
	meta  source.Metadata
	items []source.FetchedItem
	err   error
	delay time.Duration
}

func (f *fakeAdapter) Metadata() source.Metadata { return f.meta }

func (f *fakeAdapter) Fetch(ctx context.Context, q source.Query) ([]source.FetchedItem, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) source.Status { return source.StatusAvailable }

func normalizeFake(sourceCode string, raw map[string]interface{}) (*domain.UnifiedProcurement, error) {
	return domain.New(domain.UnifiedProcurement{
		SourceID:     raw["id"].(string),
		SourceName:   sourceCode,
		CNPJOrgao:    raw["cnpj"].(string),
		NumeroEdital: raw["numero"].(string),
		Ano:          2026,
		Priority:     raw["priority"].(int),
	})
}

func TestEngine_DeduplicatesByPriority(t *testing.T) {
	primary := &fakeAdapter{
		meta: source.Metadata{Code: "PRIMARY", Priority: 1},
		items: []source.FetchedItem{
			{SourceID: "1", Raw: map[string]interface{}{"id": "1", "cnpj": "00000000000100", "numero": "123/2026", "priority": 1}},
		},
	}
	secondary := &fakeAdapter{
		meta: source.Metadata{Code: "SECONDARY", Priority: 2},
		items: []source.FetchedItem{
			{SourceID: "1", Raw: map[string]interface{}{"id": "1", "cnpj": "00000000000100", "numero": "123/2026", "priority": 2}},
		},
	}

	registry := source.NewRegistry(map[string]source.Adapter{"PRIMARY": primary, "SECONDARY": secondary})
	engine := NewEngine(registry, nil, DefaultConfig(), nil)

	result, err := engine.Run(context.Background(), normalizeFake, source.Query{})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, 1, result.Items[0].Priority)
	assert.False(t, result.IsPartial)
}

func TestEngine_PartialResultWhenOneSourceFails(t *testing.T) {
	ok := &fakeAdapter{
		meta: source.Metadata{Code: "OK", Priority: 1},
		items: []source.FetchedItem{
			{SourceID: "1", Raw: map[string]interface{}{"id": "1", "cnpj": "00000000000100", "numero": "1/2026", "priority": 1}},
		},
	}
	failing := &fakeAdapter{meta: source.Metadata{Code: "FAILING", Priority: 2}, err: errors.New("boom")}

	registry := source.NewRegistry(map[string]source.Adapter{"OK": ok, "FAILING": failing})
	engine := NewEngine(registry, nil, DefaultConfig(), nil)

	result, err := engine.Run(context.Background(), normalizeFake, source.Query{})
	require.NoError(t, err)
	assert.True(t, result.IsPartial)
	assert.Contains(t, result.DegradationReason, "FAILING")
}

func TestEngine_AllSourcesFailedReturnsTypedError(t *testing.T) {
	failing1 := &fakeAdapter{meta: source.Metadata{Code: "A", Priority: 1}, err: errors.New("down")}
	failing2 := &fakeAdapter{meta: source.Metadata{Code: "B", Priority: 2}, err: errors.New("down")}

	registry := source.NewRegistry(map[string]source.Adapter{"A": failing1, "B": failing2})
	cfg := DefaultConfig()
	engine := NewEngine(registry, nil, cfg, nil)

	_, err := engine.Run(context.Background(), normalizeFake, source.Query{})
	require.Error(t, err)
	var allFailed *AllSourcesFailedError
	assert.ErrorAs(t, err, &allFailed)
}

func TestEngine_FallbackInvokedWhenAllPrimariesFail(t *testing.T) {
	failing := &fakeAdapter{meta: source.Metadata{Code: "A", Priority: 1}, err: errors.New("down")}
	fallback := &fakeAdapter{
		meta: source.Metadata{Code: "FALLBACK", Priority: 99},
		items: []source.FetchedItem{
			{SourceID: "1", Raw: map[string]interface{}{"id": "1", "cnpj": "00000000000100", "numero": "1/2026", "priority": 99}},
		},
	}

	registry := source.NewRegistry(map[string]source.Adapter{"A": failing})
	engine := NewEngine(registry, fallback, DefaultConfig(), nil)

	result, err := engine.Run(context.Background(), normalizeFake, source.Query{})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "FALLBACK", result.Items[0].SourceName)
}
