package arbiter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPrimaryMatch_DisabledDefaultsToReject(t *testing.T) {
	c := NewClient("", Config{Enabled: false}, nil)
	decision, err := c.ClassifyPrimaryMatch(context.Background(), "uniformes escolares", 100000, "Vestuário e Uniformes", "standard")
	assert.NoError(t, err)
	assert.False(t, decision)
}

func TestClassifyRecovery_DisabledDefaultsToNoRecovery(t *testing.T) {
	c := NewClient("", Config{Enabled: false}, nil)
	decision, err := c.ClassifyRecovery(context.Background(), "servidor de rede", 50000, "Informática", "exclusion_keyword_matched")
	assert.NoError(t, err)
	assert.False(t, decision)
}

func TestClassifyPrimaryMatch_MissingContextDefaultsToReject(t *testing.T) {
	c := NewClient("", Config{Enabled: true}, nil)
	decision, err := c.ClassifyPrimaryMatch(context.Background(), "objeto qualquer", 1000, "", "standard")
	assert.NoError(t, err)
	assert.False(t, decision)
}

func TestCache_StoresAndReturnsDecision(t *testing.T) {
	c := NewClient("", Config{Enabled: true}, nil)
	key := md5Key("setor", "Vestuário", 1000.0, "objeto", "standard")
	c.store(key, true)

	decision, ok := c.fromCache(key)
	assert.True(t, ok)
	assert.True(t, decision)
	assert.Equal(t, 1, c.CacheSize())

	c.ClearCache()
	assert.Equal(t, 0, c.CacheSize())
}

func TestTruncate_CapsAt500Chars(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	result := truncate(string(long), objetoTruncateLen)
	assert.Len(t, result, 500)
}

func TestBuildPrimaryMatchPrompt_ConservativeIncludesExtraGuidance(t *testing.T) {
	conservative := buildPrimaryMatchPrompt("Vestuário", 1000, "objeto", "conservative")
	standard := buildPrimaryMatchPrompt("Vestuário", 1000, "objeto", "standard")
	assert.Contains(t, conservative, "80%")
	assert.NotContains(t, standard, "80%")
}
