package sde

import (
	"encoding/json"
	"fmt"

	"minmatar-fleet/internal/logger"
)

// Activity is the production mechanism a formula belongs to.
type Activity string

const (
	ActivityManufacturing Activity = "manufacturing"
	ActivityReaction      Activity = "reaction"
)

// Formula is a blueprint manufacturing job or a reaction formula reduced to what the
// breakdown engine needs: one product, its per-run output and per-run inputs.
type Formula struct {
	BlueprintTypeID int32
	ProductTypeID   int32
	OutputQuantity  int32 // units produced per run
	Activity        Activity
	Materials       []Material
}

// Material is one per-run input of a formula.
type Material struct {
	TypeID   int32
	Quantity int32
}

// IndustryData holds the formulas loaded from the SDE.
type IndustryData struct {
	Formulas         map[int32]*Formula // blueprintTypeID -> formula
	ProductToFormula map[int32]int32    // productTypeID -> blueprintTypeID
}

// NewIndustryData creates a new IndustryData instance.
func NewIndustryData() *IndustryData {
	return &IndustryData{
		Formulas:         make(map[int32]*Formula),
		ProductToFormula: make(map[int32]int32),
	}
}

// Add registers a formula. A manufacturing formula replaces a reaction for the
// same product; otherwise the first one registered wins.
func (ind *IndustryData) Add(f *Formula) {
	if f == nil || f.ProductTypeID == 0 {
		return
	}
	ind.Formulas[f.BlueprintTypeID] = f
	if existingID, ok := ind.ProductToFormula[f.ProductTypeID]; ok {
		existing := ind.Formulas[existingID]
		if existing != nil && !(existing.Activity == ActivityReaction && f.Activity == ActivityManufacturing) {
			return
		}
	}
	ind.ProductToFormula[f.ProductTypeID] = f.BlueprintTypeID
}

// FormulaForProduct returns the active formula producing the given type.
func (ind *IndustryData) FormulaForProduct(typeID int32) (*Formula, bool) {
	bpID, ok := ind.ProductToFormula[typeID]
	if !ok {
		return nil, false
	}
	f, ok := ind.Formulas[bpID]
	return f, ok
}

// loadFormulas loads blueprint data. The file name varies between SDE exports.
func (ind *IndustryData) loadFormulas(dir string) error {
	fileNames := []string{"blueprints", "industryBlueprints"}

	for _, name := range fileNames {
		count := 0
		err := readJSONL(dir, name, func(raw json.RawMessage) error {
			count++
			return ind.parseBlueprintLine(raw)
		})
		if err != nil {
			return err
		}
		if count > 0 {
			logger.Info("SDE", fmt.Sprintf("Loaded %d blueprints from %s.jsonl", count, name))
			return nil
		}
	}

	logger.Warn("SDE", "No blueprint files found")
	return nil
}

type activityJSON struct {
	Materials []struct {
		TypeID   int32 `json:"typeID"`
		Quantity int32 `json:"quantity"`
	} `json:"materials"`
	Products []struct {
		TypeID   int32 `json:"typeID"`
		Quantity int32 `json:"quantity"`
	} `json:"products"`
}

// parseBlueprintLine parses one blueprint line:
//
//	{"_key": 681, "activities": {"manufacturing": {"materials": [...], "products": [{"typeID": 165, "quantity": 1}]}}}
func (ind *IndustryData) parseBlueprintLine(raw json.RawMessage) error {
	var bp struct {
		Key        int32 `json:"_key"`
		Activities struct {
			Manufacturing *activityJSON `json:"manufacturing"`
			Reaction      *activityJSON `json:"reaction"`
		} `json:"activities"`
	}
	if err := json.Unmarshal(raw, &bp); err != nil {
		return err
	}

	if f := formulaFromActivity(bp.Key, ActivityManufacturing, bp.Activities.Manufacturing); f != nil {
		ind.Add(f)
		return nil
	}
	if f := formulaFromActivity(bp.Key, ActivityReaction, bp.Activities.Reaction); f != nil {
		ind.Add(f)
	}
	return nil
}

func formulaFromActivity(blueprintID int32, activity Activity, a *activityJSON) *Formula {
	if a == nil || len(a.Products) == 0 {
		return nil
	}
	f := &Formula{
		BlueprintTypeID: blueprintID,
		ProductTypeID:   a.Products[0].TypeID,
		OutputQuantity:  a.Products[0].Quantity,
		Activity:        activity,
	}
	for _, m := range a.Materials {
		f.Materials = append(f.Materials, Material{TypeID: m.TypeID, Quantity: m.Quantity})
	}
	return f
}
