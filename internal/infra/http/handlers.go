package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Spok95/prodplan/internal/domain/materials"
	"github.com/Spok95/prodplan/internal/domain/production"
	"github.com/Spok95/prodplan/internal/domain/products"
	"github.com/Spok95/prodplan/internal/domain/recipes"
	"github.com/Spok95/prodplan/internal/engine"
	"github.com/Spok95/prodplan/internal/reports"
)

func (s *Server) availability(w http.ResponseWriter, r *http.Request) {
	typeID, err := strconv.ParseInt(r.URL.Query().Get("type_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("type_id is required"))
		return
	}
	kg, err := s.svc.Availability(r.Context(), typeID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"type_id": typeID, "available_kg": kg})
}

func (s *Server) requirements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	templateID, err := strconv.ParseInt(q.Get("template_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("template_id is required"))
		return
	}
	weight, err := strconv.ParseFloat(q.Get("weight_kg"), 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("weight_kg is required"))
		return
	}
	req, err := s.svc.ComputeRequirement(r.Context(), templateID, weight)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"template_id": templateID, "weight_kg": weight, "requirements": req})
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Number   string  `json:"number"`
		WeightKg float64 `json:"weight_kg"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.svc.CreateBatch(r.Context(), planID, body.Number, body.WeightKg, actor(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, res)
}

func (s *Server) createBatches(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Count        int     `json:"count"`
		WeightEachKg float64 `json:"weight_each_kg"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	created, skipped, err := s.svc.CreateBatches(r.Context(), planID, body.Count, body.WeightEachKg, actor(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"created": created, "skipped": skipped})
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	// Принимаем и канонические коды, и исторические русские подписи.
	status, err := production.ParseStatus(body.Status)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.svc.Transition(r.Context(), planID, status, actor(r), body.Note); err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"plan_id": planID, "status": status})
}

func (s *Server) undoCompletion(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	restored, err := s.svc.UndoCompletion(r.Context(), planID, actor(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"plan_id": planID, "restored_by_lot": restored})
}

func (s *Server) deletePlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeletePlan(r.Context(), planID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteBatch(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeleteBatch(r.Context(), batchID, actor(r)); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addIngredient(w http.ResponseWriter, r *http.Request) {
	batchID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		LotID int64   `json:"lot_id"`
		QtyKg float64 `json:"qty_kg"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.svc.AddIngredient(r.Context(), batchID, body.LotID, body.QtyKg, actor(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, res)
}

func (s *Server) removeIngredient(w http.ResponseWriter, r *http.Request) {
	reservationID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.RemoveIngredient(r.Context(), reservationID, actor(r)); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) forecast(w http.ResponseWriter, r *http.Request) {
	var from, to *time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		from = &t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		to = &t
	}
	fc, err := s.svc.BuildForecast(r.Context(), from, to)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, fc)
}

func (s *Server) forecastXLSX(w http.ResponseWriter, r *http.Request) {
	data, err := s.exp.Forecast(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeXLSX(w, "forecast.xlsx", data)
}

func (s *Server) usedMaterialsXLSX(w http.ResponseWriter, r *http.Request) {
	planID, ok := s.pathID(w, r)
	if !ok {
		return
	}
	data, err := s.exp.UsedMaterials(r.Context(), planID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeXLSX(w, "used_materials.xlsx", data)
}

/* Вспомогательное */

func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("bad id"))
		return 0, false
	}
	return id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("write response", "err", err)
	}
}

func (s *Server) writeXLSX(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if _, err := w.Write(data); err != nil {
		s.log.Error("write xlsx", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeEngineError раскладывает типизированные ошибки движка по HTTP-кодам.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrPlanNotFound),
		errors.Is(err, engine.ErrBatchNotFound),
		errors.Is(err, engine.ErrLotNotFound),
		errors.Is(err, engine.ErrTemplateNotFound),
		errors.Is(err, engine.ErrReservationNotFound):
		s.writeError(w, http.StatusNotFound, err)
	case isValidationError(err):
		s.writeError(w, http.StatusConflict, err)
	default:
		s.log.Error("engine error", "err", err)
		s.writeError(w, http.StatusInternalServerError, err)
	}
}

func isValidationError(err error) bool {
	var (
		dup        engine.DuplicateBatchLabelError
		qty        engine.InvalidQuantityError
		weight     engine.WeightOutOfRangeError
		overrun    engine.PlanOverrunError
		exceeds    engine.ExceedsRequirementError
		lot        engine.InsufficientLotError
		stock      engine.InsufficientStockError
		under      engine.UnderProducedError
		incomplete engine.IncompleteIngredientsError
		transition engine.InvalidTransitionError
		completed  engine.PlanCompletedError
		ingredient engine.IngredientNotInRecipeError

		emptyRecipe recipes.EmptyRecipeError
		pctSum      recipes.PercentageSumError
		dupItem     recipes.DuplicateIngredientError
		badPct      recipes.InvalidPercentageError
		saved       recipes.TemplateSavedError
	)
	return errors.As(err, &dup) ||
		errors.As(err, &qty) ||
		errors.As(err, &weight) ||
		errors.As(err, &overrun) ||
		errors.As(err, &exceeds) ||
		errors.As(err, &lot) ||
		errors.As(err, &stock) ||
		errors.As(err, &under) ||
		errors.As(err, &incomplete) ||
		errors.As(err, &transition) ||
		errors.As(err, &completed) ||
		errors.As(err, &ingredient) ||
		errors.As(err, &emptyRecipe) ||
		errors.As(err, &pctSum) ||
		errors.As(err, &dupItem) ||
		errors.As(err, &badPct) ||
		errors.As(err, &saved) ||
		errors.Is(err, engine.ErrPlanNotDeletable) ||
		errors.Is(err, production.ErrPlanNotEditable) ||
		errors.Is(err, materials.ErrTypeInUse) ||
		errors.Is(err, products.ErrInUse) ||
		errors.Is(err, reports.ErrPlanNotCompleted)
}
