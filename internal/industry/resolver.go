package industry

import (
	"context"

	"minmatar-fleet/internal/sde"
)

// FormulaSource looks up the active formula for a product.
// *sde.IndustryData satisfies it.
type FormulaSource interface {
	FormulaForProduct(typeID int32) (*sde.Formula, bool)
}

// Input is one per-run input of a resolved formula.
type Input struct {
	TypeID         int32
	QuantityPerRun int64
}

// Resolution describes how a type is produced.
type Resolution struct {
	Type         EveType
	Source       Source
	Inputs       []Input
	OutputPerRun int64 // zero for raw materials
}

// Resolver maps a type to its production method and per-run inputs.
type Resolver struct {
	catalog  *Catalog
	formulas FormulaSource
}

// NewResolver creates a resolver. A nil formula source treats every type as raw.
func NewResolver(catalog *Catalog, formulas FormulaSource) *Resolver {
	return &Resolver{catalog: catalog, formulas: formulas}
}

// Resolve returns the production method of typeID. Unknown types fail with
// ErrTypeNotFound; types without a formula resolve as raw materials.
func (r *Resolver) Resolve(ctx context.Context, typeID int32) (*Resolution, error) {
	t, err := r.catalog.Type(ctx, typeID)
	if err != nil {
		return nil, err
	}
	res := &Resolution{Type: t, Source: SourceRaw}
	if r.formulas == nil {
		return res, nil
	}
	f, ok := r.formulas.FormulaForProduct(typeID)
	if !ok || f == nil {
		return res, nil
	}

	if f.OutputQuantity <= 0 {
		return nil, &FormulaIntegrityError{TypeID: typeID, Reason: "formula output per run is not positive"}
	}
	res.Source = SourceBlueprint
	if f.Activity == sde.ActivityReaction {
		res.Source = SourceReaction
	}
	res.OutputPerRun = int64(f.OutputQuantity)
	res.Inputs = make([]Input, 0, len(f.Materials))
	for _, m := range f.Materials {
		if m.Quantity <= 0 {
			return nil, &FormulaIntegrityError{TypeID: typeID, Reason: "formula input quantity is not positive"}
		}
		res.Inputs = append(res.Inputs, Input{TypeID: m.TypeID, QuantityPerRun: int64(m.Quantity)})
	}
	return res, nil
}
