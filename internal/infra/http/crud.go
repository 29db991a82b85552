package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Spok95/prodplan/internal/domain/materials"
	"github.com/Spok95/prodplan/internal/domain/planning"
	"github.com/Spok95/prodplan/internal/domain/production"
)

/* Виды сырья и партии */

func (s *Server) createMaterialType(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	t, err := s.repos.Materials.CreateType(r.Context(), body.Name)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, t)
}

func (s *Server) listMaterialTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.repos.Materials.ListTypes(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, types)
}

func (s *Server) deleteMaterialType(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.repos.Materials.DeleteType(r.Context(), id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createLot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TypeID      int64   `json:"type_id"`
		Name        string  `json:"name"`
		BatchNumber string  `json:"batch_number"`
		QuantityKg  float64 `json:"quantity_kg"`
		ReceivedAt  string  `json:"received_at"`
		ExpiresAt   string  `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.QuantityKg <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("quantity_kg must be > 0"))
		return
	}
	received, err := time.Parse("2006-01-02", body.ReceivedAt)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("received_at must be YYYY-MM-DD"))
		return
	}
	lot := materials.Lot{
		TypeID:      body.TypeID,
		Name:        body.Name,
		BatchNumber: body.BatchNumber,
		QuantityKg:  body.QuantityKg,
		ReceivedAt:  received,
	}
	if body.ExpiresAt != "" {
		exp, err := time.Parse("2006-01-02", body.ExpiresAt)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, errors.New("expires_at must be YYYY-MM-DD"))
			return
		}
		lot.ExpiresAt = &exp
	}
	created, err := s.repos.Materials.CreateLot(r.Context(), lot)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, created)
}

func (s *Server) listLots(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("type_id"); v != "" {
		typeID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, errors.New("bad type_id"))
			return
		}
		lots, err := s.repos.Materials.ListLotsByType(r.Context(), typeID)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, lots)
		return
	}
	lots, err := s.repos.Materials.ListLots(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, lots)
}

func (s *Server) updateLot(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Name        string `json:"name"`
		BatchNumber string `json:"batch_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	lot, err := s.repos.Materials.UpdateLot(r.Context(), id, body.Name, body.BatchNumber)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, lot)
}

func (s *Server) lotUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	usage, err := s.repos.Materials.Usage(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, usage)
}

/* Продукты */

func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}
	p, err := s.repos.Products.Create(r.Context(), body.Name)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, p)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	list, err := s.repos.Products.List(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, list)
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.repos.Products.Delete(r.Context(), id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* Рецептуры */

func (s *Server) createRecipe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID int64  `json:"product_id"`
		Name      string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("product_id and name are required"))
		return
	}
	t, err := s.repos.Recipes.CreateTemplate(r.Context(), body.ProductID, body.Name)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, t)
}

// listSavedRecipes отдаёт только сохранённые рецептуры продукта:
// черновики не годятся для планов производства.
func (s *Server) listSavedRecipes(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("product_id is required"))
		return
	}
	list, err := s.repos.Recipes.ListSavedByProduct(r.Context(), productID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, list)
}

func (s *Server) getRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	t, err := s.repos.Recipes.GetTemplate(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if t == nil {
		s.writeError(w, http.StatusNotFound, errors.New("recipe not found"))
		return
	}
	s.writeJSON(w, t)
}

func (s *Server) addRecipeItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		MaterialTypeID int64  `json:"material_type_id"`
		Percentage     string `json:"percentage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	pct, err := decimal.NewFromString(body.Percentage)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("bad percentage"))
		return
	}
	item, err := s.repos.Recipes.AddItem(r.Context(), id, body.MaterialTypeID, pct)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, item)
}

func (s *Server) removeRecipeItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	itemID, err := strconv.ParseInt(r.PathValue("item_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("bad item_id"))
		return
	}
	if err := s.repos.Recipes.RemoveItem(r.Context(), id, itemID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) saveRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.repos.Recipes.Save(r.Context(), id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"template_id": id, "status": "saved"})
}

/* Планы производства */

func (s *Server) createPlan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProductID   int64   `json:"product_id"`
		TemplateID  int64   `json:"template_id"`
		QuantityKg  float64 `json:"quantity_kg"`
		BatchNumber string  `json:"batch_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.QuantityKg <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("quantity_kg must be > 0"))
		return
	}
	p, err := s.repos.Production.CreatePlan(r.Context(), body.ProductID, body.TemplateID, body.QuantityKg, body.BatchNumber)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, p)
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	var status *production.PlanStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st, err := production.ParseStatus(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		status = &st
	}
	list, err := s.repos.Production.ListPlans(r.Context(), status)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, list)
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	p, err := s.repos.Production.GetPlan(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if p == nil {
		s.writeError(w, http.StatusNotFound, errors.New("plan not found"))
		return
	}
	batches, err := s.repos.Production.Batches(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{
		"plan":             p,
		"batches":          batches,
		"progress_percent": p.Progress(batches),
	})
}

func (s *Server) updatePlanQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		QuantityKg float64 `json:"quantity_kg"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.QuantityKg <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("quantity_kg must be > 0"))
		return
	}
	if err := s.repos.Production.UpdateQuantity(r.Context(), id, body.QuantityKg, actor(r)); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) updatePlanBatchNumber(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		BatchNumber string `json:"batch_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.BatchNumber == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("batch_number is required"))
		return
	}
	if err := s.repos.Production.UpdateBatchNumber(r.Context(), id, body.BatchNumber, actor(r)); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) planAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	entries, err := s.repos.Production.Audit(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, entries)
}

func (s *Server) deleteAllBatches(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	n, err := s.svc.DeleteAllBatches(r.Context(), id, actor(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"deleted": n})
}

/* Помесячные планы */

func (s *Server) upsertMonthlyPlan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Year       int     `json:"year"`
		Month      int     `json:"month"`
		ProductID  int64   `json:"product_id"`
		TemplateID int64   `json:"template_id"`
		QuantityKg float64 `json:"quantity_kg"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Month < 1 || body.Month > 12 || body.QuantityKg <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("month must be 1..12 and quantity_kg > 0"))
		return
	}
	p, err := s.repos.Planning.Upsert(r.Context(), planning.MonthlyPlan{
		Year:       body.Year,
		Month:      time.Month(body.Month),
		ProductID:  body.ProductID,
		TemplateID: body.TemplateID,
		QuantityKg: body.QuantityKg,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, p)
}

func (s *Server) listMonthlyPlans(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("year is required"))
		return
	}
	list, err := s.repos.Planning.ListByYear(r.Context(), year)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, list)
}

func (s *Server) deleteMonthlyPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.repos.Planning.Delete(r.Context(), id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) monthlyDemand(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("year is required"))
		return
	}
	demand, err := s.svc.MonthlyDemand(r.Context(), year)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, demand)
}
