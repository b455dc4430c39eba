package pipeline

import "github.com/tjsasakifln/bidiq/internal/filter"

// SectorCatalog resolves a registered setor_id to its keyword
// dictionary. validateRequest and the filter stage both consult it.
type SectorCatalog interface {
	Get(sectorID string) (*filter.Sector, bool)
}

// StaticSectorCatalog is an in-memory SectorCatalog seeded at startup.
// Grounded on spec.md §7's "Vestuário e Uniformes" worked example and
// original_source/backend/tests/test_integration_new_sectors.py's
// saude/vigilancia/transporte sector IDs (sectors.py itself, where the
// full keyword/synonym dictionaries live, was not part of the
// retrieved source set — the dictionaries below are representative
// starting points, not a transcription).
type StaticSectorCatalog struct {
	sectors map[string]*filter.Sector
}

// NewStaticSectorCatalog builds the catalog with the product-category
// dictionaries the pack's sources name.
func NewStaticSectorCatalog() *StaticSectorCatalog {
	return &StaticSectorCatalog{
		sectors: map[string]*filter.Sector{
			"vestuario_uniformes": {
				Name:     "Vestuário e Uniformes",
				Keywords: []string{"uniforme", "fardamento", "vestuario", "confeccao", "tecido"},
				ExclusionKeywords: []string{
					"melhorias urbanas", "pavimentacao", "reforma predial",
				},
				Synonyms: map[string][]string{
					"uniforme": {"farda", "indumentaria"},
				},
			},
			"saude": {
				Name: "Saúde",
				Keywords: []string{
					"medicamento", "hospitalar", "equipamento medico", "insumo hospitalar",
					"material medico", "odontologico", "ambulancia",
				},
				ExclusionKeywords: []string{"seguro saude corporativo"},
				Synonyms: map[string][]string{
					"medicamento": {"farmaco", "remedio"},
				},
			},
			"vigilancia": {
				Name: "Vigilância e Segurança",
				Keywords: []string{
					"vigilancia patrimonial", "seguranca desarmada", "monitoramento cftv",
					"portaria", "ronda",
				},
				ExclusionKeywords: []string{"vigilancia sanitaria", "vigilancia epidemiologica"},
			},
			"transporte": {
				Name: "Transporte",
				Keywords: []string{
					"transporte escolar", "locacao de veiculos", "frota", "combustivel",
					"transporte de passageiros",
				},
				ExclusionKeywords: []string{"transporte de cargas perigosas"},
			},
			"educacao": {
				Name: "Educação",
				Keywords: []string{
					"material didatico", "merenda escolar", "mobiliario escolar",
					"rede municipal de ensino", "livro didatico",
				},
			},
			"construcao_civil": {
				Name:     "Construção Civil",
				Keywords: []string{"obra", "reforma predial", "pavimentacao", "construcao civil", "engenharia"},
			},
		},
	}
}

// Get implements SectorCatalog.
func (c *StaticSectorCatalog) Get(sectorID string) (*filter.Sector, bool) {
	s, ok := c.sectors[sectorID]
	return s, ok
}
