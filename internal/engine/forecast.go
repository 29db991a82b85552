package engine

import (
	"context"
	"sort"
	"time"

	"github.com/Spok95/prodplan/internal/domain/production"
	"github.com/Spok95/prodplan/internal/domain/recipes"
)

// Forecast — прогноз потребности в сырье по утверждённым планам.
// Чисто производные данные: ничего не блокирует и не изменяет.
type Forecast struct {
	Dates      []string                    // отсортированные даты YYYY-MM-DD
	Demand     map[string]map[int64]float64 // дата → вид сырья → кг
	Cumulative map[int64]float64            // вид сырья → суммарная потребность
	Stock      map[int64]float64            // вид сырья → текущий физический остаток
	Balance    map[int64]float64            // Stock − Cumulative
}

// BuildForecast группирует утверждённые планы по дате создания и
// раскладывает их объём через рецептуры. from/to (опционально)
// ограничивают диапазон по дате создания плана.
func (s *Service) BuildForecast(ctx context.Context, from, to *time.Time) (*Forecast, error) {
	plans, err := s.store.PlansByStatus(ctx, production.StatusApproved)
	if err != nil {
		return nil, err
	}

	f := &Forecast{
		Demand:     map[string]map[int64]float64{},
		Cumulative: map[int64]float64{},
		Stock:      map[int64]float64{},
		Balance:    map[int64]float64{},
	}

	for _, p := range plans {
		if from != nil && p.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && p.CreatedAt.After(*to) {
			continue
		}
		items, err := s.store.TemplateItems(ctx, p.TemplateID)
		if err != nil {
			return nil, err
		}
		date := p.CreatedAt.Format("2006-01-02")
		day := f.Demand[date]
		if day == nil {
			day = map[int64]float64{}
			f.Demand[date] = day
		}
		for _, it := range items {
			needed := recipes.RequiredKg(p.QuantityKg, it.Percentage)
			day[it.MaterialTypeID] += needed
			f.Cumulative[it.MaterialTypeID] += needed
		}
	}

	lots, err := s.store.AllLots(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range lots {
		f.Stock[l.TypeID] += l.QuantityKg
	}
	for typeID := range f.Cumulative {
		f.Balance[typeID] = f.Stock[typeID] - f.Cumulative[typeID]
	}

	f.Dates = make([]string, 0, len(f.Demand))
	for d := range f.Demand {
		f.Dates = append(f.Dates, d)
	}
	sort.Strings(f.Dates)
	return f, nil
}

// MonthlyDemand проецирует помесячные планы года через их рецептуры:
// месяц → вид сырья → кг.
func (s *Service) MonthlyDemand(ctx context.Context, year int) (map[time.Month]map[int64]float64, error) {
	plans, err := s.store.MonthlyPlans(ctx, year)
	if err != nil {
		return nil, err
	}
	out := map[time.Month]map[int64]float64{}
	for _, p := range plans {
		items, err := s.store.TemplateItems(ctx, p.TemplateID)
		if err != nil {
			return nil, err
		}
		month := out[p.Month]
		if month == nil {
			month = map[int64]float64{}
			out[p.Month] = month
		}
		for _, it := range items {
			month[it.MaterialTypeID] += recipes.RequiredKg(p.QuantityKg, it.Percentage)
		}
	}
	return out, nil
}
