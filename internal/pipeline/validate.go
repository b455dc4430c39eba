package pipeline

import (
	"strings"

	"github.com/tjsasakifln/bidiq/internal/filter"
	"github.com/tjsasakifln/bidiq/pkg/errors"
)

// brazilianUFs is the closed set of valid Brazilian state codes spec.md
// §7's "invalid modality code, empty UF set, unknown sector" validation
// error checks against.
var brazilianUFs = map[string]struct{}{
	"AC": {}, "AL": {}, "AP": {}, "AM": {}, "BA": {}, "CE": {}, "DF": {},
	"ES": {}, "GO": {}, "MA": {}, "MT": {}, "MS": {}, "MG": {}, "PA": {},
	"PB": {}, "PR": {}, "PE": {}, "PI": {}, "RJ": {}, "RN": {}, "RS": {},
	"RO": {}, "RR": {}, "SC": {}, "SP": {}, "SE": {}, "TO": {},
}

// rejectedModalities are the modality codes filter.Config's comment
// says must never reach the filter engine — validated and rejected here,
// at the orchestrator's schema-validation stage.
var rejectedModalities = map[int]struct{}{9: {}, 14: {}}

// validateRequest enforces spec.md §7's client validation errors: bad
// date range, invalid modality code, empty UF set, unknown sector
// (neither a registered sector nor custom search terms supplied).
func (o *Orchestrator) validateRequest(req Request) error {
	if len(req.UFs) == 0 {
		return errors.ErrValidation("ufs: at least one state code is required")
	}
	for _, uf := range req.UFs {
		if _, ok := brazilianUFs[strings.ToUpper(uf)]; !ok {
			return errors.ErrInvalidUF(uf)
		}
	}

	if req.DateFrom != nil && req.DateTo != nil && req.DateFrom.After(*req.DateTo) {
		return errors.ErrValidation("data_inicial must not be after data_final")
	}

	for _, m := range req.ModalityFilters {
		if _, ok := rejectedModalities[m]; ok {
			return errors.ErrValidation("modalidade inválida ou não suportada")
		}
	}

	var sector *filter.Sector
	if req.SectorID != "" {
		var ok bool
		sector, ok = o.sectors.Get(req.SectorID)
		if !ok {
			return errors.ErrValidation("setor_id desconhecido: " + req.SectorID)
		}
	}
	if sector == nil && len(req.CustomTerms) == 0 {
		return errors.ErrValidation("either setor_id or termos_busca is required")
	}

	return nil
}
