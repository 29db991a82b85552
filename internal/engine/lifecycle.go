package engine

import (
	"context"
	"math"

	"github.com/Spok95/prodplan/internal/domain/production"
	"github.com/Spok95/prodplan/internal/domain/recipes"
)

// Допуски завершения плана: 0.1% на суммарный вес замесов,
// 0.01 кг на внесение каждого ингредиента.
const (
	completionWeightFactor = 0.999
	ingredientToleranceKg  = 0.01
)

// allowedTransitions: draft → approved → in_progress → completed;
// cancelled — из draft и approved. Возврат completed → draft идёт
// только через UndoCompletion (восстановление остатков).
var allowedTransitions = map[production.PlanStatus][]production.PlanStatus{
	production.StatusDraft:      {production.StatusApproved, production.StatusCancelled},
	production.StatusApproved:   {production.StatusInProgress, production.StatusCancelled},
	production.StatusInProgress: {production.StatusCompleted},
}

func transitionAllowed(from, to production.PlanStatus) bool {
	for _, t := range allowedTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition переводит план в целевой статус. Переход completed → draft
// делегируется UndoCompletion; остальные недопустимые переходы
// отклоняются с InvalidTransition.
func (s *Service) Transition(ctx context.Context, planID int64, target production.PlanStatus, actor, note string) error {
	plan, err := s.store.Plan(ctx, planID)
	if err != nil {
		return err
	}
	if plan == nil {
		return ErrPlanNotFound
	}
	if plan.Status == production.StatusCompleted && target == production.StatusDraft {
		_, err := s.UndoCompletion(ctx, planID, actor)
		return err
	}
	if !transitionAllowed(plan.Status, target) {
		return InvalidTransitionError{PlanID: planID, From: plan.Status, To: target}
	}

	switch target {
	case production.StatusApproved:
		if err := s.checkStockForPlan(ctx, plan); err != nil {
			return err
		}
	case production.StatusCompleted:
		return s.complete(ctx, plan, actor, note)
	}

	err = s.store.SetPlanStatus(ctx, planID, target,
		s.audit(planID, actor, production.EventStatusChanged, statusPayload(plan.Status, target, note)),
	)
	if err != nil {
		return err
	}
	planTransitions.WithLabelValues(string(target)).Inc()
	return nil
}

// checkStockForPlan — при утверждении: по каждой позиции рецептуры
// суммарный свободный остаток вида должен покрывать потребность
// на весь плановый объём.
func (s *Service) checkStockForPlan(ctx context.Context, plan *production.Plan) error {
	items, err := s.store.TemplateItems(ctx, plan.TemplateID)
	if err != nil {
		return err
	}
	var shortages []TypeShortage
	for _, it := range items {
		needed := recipes.RequiredKg(plan.QuantityKg, it.Percentage)
		available, err := s.Availability(ctx, it.MaterialTypeID)
		if err != nil {
			return err
		}
		if available+qtyEps < needed {
			shortages = append(shortages, TypeShortage{
				TypeID:      it.MaterialTypeID,
				TypeName:    it.TypeName,
				NeededKg:    needed,
				AvailableKg: available,
			})
		}
	}
	if len(shortages) > 0 {
		return InsufficientStockError{PlanID: plan.ID, Shortages: shortages}
	}
	return nil
}

// complete — строгая проверка выполнения плана и единственная точка
// физического списания. Валидация целиком предшествует записи;
// запись атомарна — частичное списание не наблюдаемо.
func (s *Service) complete(ctx context.Context, plan *production.Plan, actor, note string) error {
	batches, err := s.store.Batches(ctx, plan.ID)
	if err != nil {
		return err
	}

	var produced float64
	for _, b := range batches {
		produced += b.WeightKg
	}
	if produced < plan.QuantityKg*completionWeightFactor {
		return UnderProducedError{PlanID: plan.ID, ProducedKg: produced, PlanKg: plan.QuantityKg}
	}

	items, err := s.store.TemplateItems(ctx, plan.TemplateID)
	if err != nil {
		return err
	}
	for _, b := range batches {
		for _, it := range items {
			needed := recipes.RequiredKg(b.WeightKg, it.Percentage)
			added, err := s.usedByType(ctx, b.ID, it.MaterialTypeID)
			if err != nil {
				return err
			}
			if math.Abs(added-needed) > ingredientToleranceKg {
				return IncompleteIngredientsError{
					PlanID:      plan.ID,
					BatchNumber: b.Number,
					TypeID:      it.MaterialTypeID,
					TypeName:    it.TypeName,
					AddedKg:     added,
					NeededKg:    needed,
				}
			}
		}
	}

	reservations, err := s.store.ReservationsByPlan(ctx, plan.ID)
	if err != nil {
		return err
	}
	deductions := make([]StockMove, 0, len(reservations))
	for _, r := range reservations {
		deductions = append(deductions, StockMove{LotID: r.LotID, Qty: r.UsedQty})
	}

	err = s.store.CompletePlan(ctx, plan.ID, deductions,
		s.audit(plan.ID, actor, production.EventStatusChanged,
			statusPayload(plan.Status, production.StatusCompleted, note)),
	)
	if err != nil {
		return err
	}
	planTransitions.WithLabelValues(string(production.StatusCompleted)).Inc()
	return nil
}

// UndoCompletion отменяет завершение: каждой партии возвращается ровно
// то, что было списано по её резервам, план возвращается в draft.
// Резервы сохраняются — замесы держат свои ингредиенты и план можно
// завершить повторно без нового распределения.
func (s *Service) UndoCompletion(ctx context.Context, planID int64, actor string) (map[int64]float64, error) {
	plan, err := s.store.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrPlanNotFound
	}
	if plan.Status != production.StatusCompleted {
		return nil, InvalidTransitionError{PlanID: planID, From: plan.Status, To: production.StatusDraft}
	}

	reservations, err := s.store.ReservationsByPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	restoredByLot := make(map[int64]float64)
	restores := make([]StockMove, 0, len(reservations))
	for _, r := range reservations {
		restores = append(restores, StockMove{LotID: r.LotID, Qty: r.UsedQty})
		restoredByLot[r.LotID] += r.UsedQty
	}

	err = s.store.UndoCompletion(ctx, planID, restores,
		s.audit(planID, actor, production.EventCompletionUndo, map[string]any{
			"restored_by_lot": restoredByLot,
		}),
	)
	if err != nil {
		return nil, err
	}
	planTransitions.WithLabelValues(string(production.StatusDraft)).Inc()
	return restoredByLot, nil
}

// DeletePlan удаляет черновик или отменённый план вместе с замесами
// и резервами. Остатки не меняются: по незавершённому плану ничего
// не списывалось.
func (s *Service) DeletePlan(ctx context.Context, planID int64) error {
	plan, err := s.store.Plan(ctx, planID)
	if err != nil {
		return err
	}
	if plan == nil {
		return ErrPlanNotFound
	}
	if plan.Status != production.StatusDraft && plan.Status != production.StatusCancelled {
		return ErrPlanNotDeletable
	}
	return s.store.DeletePlan(ctx, planID)
}

func statusPayload(from, to production.PlanStatus, note string) map[string]any {
	p := map[string]any{
		"from": string(from),
		"to":   string(to),
	}
	if note != "" {
		p["note"] = note
	}
	return p
}
