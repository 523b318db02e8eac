package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"minmatar-fleet/internal/db"
	"minmatar-fleet/internal/industry"
	"minmatar-fleet/internal/logger"
)

const dateLayout = "2006-01-02"

// writeServiceError maps engine and store errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var integrity *industry.FormulaIntegrityError
	switch {
	case errors.Is(err, industry.ErrTypeNotFound),
		errors.Is(err, industry.ErrProductNotFound),
		errors.Is(err, db.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, industry.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrOverAssigned):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &integrity):
		logger.FromContext(r.Context()).Error("Formula integrity error", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		logger.FromContext(r.Context()).Error("Request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathInt64(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return v, nil
}

func pathTypeID(r *http.Request) (int32, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, "typeID"), 10, 32)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid typeID")
	}
	return int32(v), nil
}

// queryQuantity reads ?quantity=, defaulting to 1.
func queryQuantity(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("quantity")
	if raw == "" {
		return 1, nil
	}
	q, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || q < 1 {
		return 0, fmt.Errorf("quantity must be a positive integer")
	}
	return q, nil
}

// queryMaxDepth reads ?max_depth=, defaulting to no limit. -1 also means no limit.
func queryMaxDepth(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("max_depth")
	if raw == "" {
		return industry.NoDepthLimit, nil
	}
	d, err := strconv.Atoi(raw)
	if err != nil || d < industry.NoDepthLimit {
		return 0, fmt.Errorf("max_depth must be -1 or a non-negative integer")
	}
	return d, nil
}

func queryDateRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, err := time.Parse(dateLayout, q.Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from must be a date formatted YYYY-MM-DD")
	}
	to, err := time.Parse(dateLayout, q.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to must be a date formatted YYYY-MM-DD")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to must not be before from")
	}
	return from, to, nil
}

// --- Types ---

func (s *Server) handleTypeBreakdown(w http.ResponseWriter, r *http.Request) {
	typeID, err := pathTypeID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quantity, err := queryQuantity(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	svc := s.service()
	tree, err := svc.GetNestedBreakdown(r.Context(), typeID, quantity)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if err := svc.EnrichBreakdownWithIndustryProductIDs(r.Context(), tree); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, tree)
}

func (s *Server) handleTypeFlatBreakdown(w http.ResponseWriter, r *http.Request) {
	typeID, err := pathTypeID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quantity, err := queryQuantity(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	materials, err := s.service().GetFlatBreakdown(r.Context(), typeID, quantity)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, materials)
}

// --- Products ---

type putProductRequest struct {
	TypeID   int32  `json:"type_id" validate:"required,gt=0"`
	Strategy string `json:"strategy" validate:"required,oneof=import export integrated"`
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.db.ListIndustryProducts(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, products)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "productID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := s.db.GetIndustryProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, p)
}

// handlePutProduct creates or updates a product and recomputes its cached breakdown.
func (s *Server) handlePutProduct(w http.ResponseWriter, r *http.Request) {
	var req putProductRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	strategy, err := industry.ParseStrategy(req.Strategy)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	svc := s.service()
	t, err := svc.Catalog().Type(r.Context(), req.TypeID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// Nothing is written unless the tree builds.
	breakdown, err := svc.BuildProductBreakdown(r.Context(), t.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	p, err := s.db.PutIndustryProductWithBreakdown(r.Context(), t.ID, t.Name, strategy, breakdown)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Info("Industry product saved", "type_id", t.ID, "strategy", strategy)
	writeJSON(w, p)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "productID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.DeleteIndustryProduct(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProductBreakdown(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "productID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quantity, err := queryQuantity(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxDepth, err := queryMaxDepth(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	store := false
	if raw := r.URL.Query().Get("store"); raw != "" {
		if store, err = strconv.ParseBool(raw); err != nil {
			writeError(w, http.StatusBadRequest, "store must be a boolean")
			return
		}
	}

	p, err := s.db.GetIndustryProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	tree, err := s.service().GetBreakdownForIndustryProduct(r.Context(), p.TypeID, quantity, maxDepth, store)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, tree)
}

// --- Orders ---

type orderItemRequest struct {
	TypeID   int32 `json:"type_id" validate:"required,gt=0"`
	Quantity int64 `json:"quantity" validate:"required,gt=0"`
}

type createOrderRequest struct {
	NeededBy    string             `json:"needed_by" validate:"required,date"`
	CharacterID int64              `json:"character_id" validate:"required,gt=0"`
	LocationID  int64              `json:"location_id" validate:"gte=0"`
	Items       []orderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type assignRequest struct {
	CharacterID int64 `json:"character_id" validate:"required,gt=0"`
	Quantity    int64 `json:"quantity" validate:"required,gt=0"`
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.db.ListIndustryOrders(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, orders)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	neededBy, _ := time.Parse(dateLayout, req.NeededBy)

	catalog := s.service().Catalog()
	items := make([]industry.TypeQuantity, 0, len(req.Items))
	for _, it := range req.Items {
		if _, err := catalog.Type(r.Context(), it.TypeID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		items = append(items, industry.TypeQuantity{TypeID: it.TypeID, Quantity: it.Quantity})
	}

	order, err := s.db.CreateIndustryOrder(r.Context(), db.IndustryOrderInput{
		NeededBy:    neededBy,
		CharacterID: req.CharacterID,
		LocationID:  req.LocationID,
		Items:       items,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "orderID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	order, err := s.db.GetIndustryOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, order)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "orderID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.db.DeleteIndustryOrder(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddOrderItem(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathInt64(r, "orderID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req orderItemRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if _, err := s.service().Catalog().Type(r.Context(), req.TypeID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	item, err := s.db.AddIndustryOrderItem(r.Context(), orderID, req.TypeID, req.Quantity)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, item)
}

func (s *Server) handleAssignOrderItem(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathInt64(r, "orderID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	itemID, err := pathInt64(r, "itemID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req assignRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	a, err := s.db.AssignIndustryOrderItem(r.Context(), orderID, itemID, req.CharacterID, req.Quantity)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, a)
}

func (s *Server) handleOrderBreakdown(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "orderID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trees, err := s.service().OrderBreakdown(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, trees)
}

// --- Summaries ---

func (s *Server) handleNestedSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trees, err := s.service().NestedSummary(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, trees)
}

func (s *Server) handleFlatSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	materials, err := s.service().FlatSummary(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, materials)
}
