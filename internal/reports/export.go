// Package reports — выгрузка отчётов в xlsx для слоя представления.
package reports

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/Spok95/prodplan/internal/domain/production"
	"github.com/Spok95/prodplan/internal/engine"
)

// ErrPlanNotCompleted — отчёт по использованному сырью доступен
// только для завершённых планов.
var ErrPlanNotCompleted = errors.New("reports: plan is not completed")

type Exporter struct {
	svc   *engine.Service
	store engine.Store
}

func NewExporter(svc *engine.Service, store engine.Store) *Exporter {
	return &Exporter{svc: svc, store: store}
}

// Forecast формирует xlsx: потребность по датам и видам сырья,
// накопительный итог и баланс против текущих остатков.
func (e *Exporter) Forecast(ctx context.Context) ([]byte, error) {
	fc, err := e.svc.BuildForecast(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	types, err := e.store.MaterialTypes(ctx)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	header := []interface{}{"date"}
	for _, t := range types {
		header = append(header, t.Name)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}

	row := 2
	writeRow := func(label string, byType map[int64]float64) error {
		vals := []interface{}{label}
		for _, t := range types {
			vals = append(vals, byType[t.ID])
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
			return err
		}
		row++
		return nil
	}

	for _, d := range fc.Dates {
		if err := writeRow(d, fc.Demand[d]); err != nil {
			return nil, err
		}
	}
	if err := writeRow("итого", fc.Cumulative); err != nil {
		return nil, err
	}
	if err := writeRow("остаток", fc.Stock); err != nil {
		return nil, err
	}
	if err := writeRow("баланс", fc.Balance); err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UsedMaterials — отчёт по использованному сырью завершённого плана:
// замес, партия, вид сырья, количество.
func (e *Exporter) UsedMaterials(ctx context.Context, planID int64) ([]byte, error) {
	plan, err := e.store.Plan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, engine.ErrPlanNotFound
	}
	if plan.Status != production.StatusCompleted {
		return nil, ErrPlanNotCompleted
	}

	batches, err := e.store.Batches(ctx, planID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	header := []interface{}{"batch", "lot", "material_type", "used_kg"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}

	row := 2
	for _, b := range batches {
		reservations, err := e.store.Reservations(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range reservations {
			lot, err := e.store.Lot(ctx, r.LotID)
			if err != nil {
				return nil, err
			}
			lotNumber, typeName := fmt.Sprintf("#%d", r.LotID), ""
			if lot != nil {
				lotNumber, typeName = lot.BatchNumber, lot.TypeName
			}
			vals := []interface{}{b.Number, lotNumber, typeName, r.UsedQty}
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return nil, err
			}
			if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
				return nil, err
			}
			row++
		}
	}

	buf := &bytes.Buffer{}
	if err := f.Write(buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
