package materials

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrTypeInUse возвращается при попытке удалить вид сырья,
// на который ссылаются партии или рецептуры.
var ErrTypeInUse = errors.New("materials: type is referenced")

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

/* Виды сырья */

func (r *Repo) CreateType(ctx context.Context, name string) (*Type, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO material_types (name)
		VALUES ($1)
		RETURNING id, name, created_at
	`, name)

	var t Type
	if err := row.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repo) GetType(ctx context.Context, id int64) (*Type, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, created_at FROM material_types WHERE id = $1
	`, id)
	var t Type
	if err := row.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *Repo) ListTypes(ctx context.Context) ([]Type, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, created_at FROM material_types ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Type
	for rows.Next() {
		var t Type
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteType удаляет вид сырья; запрещено, пока на него ссылаются
// партии или позиции рецептур.
func (r *Repo) DeleteType(ctx context.Context, id int64) error {
	var refs int
	err := r.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM material_lots WHERE type_id = $1)
		     + (SELECT COUNT(*) FROM recipe_items WHERE material_type_id = $1)
	`, id).Scan(&refs)
	if err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: type %d", ErrTypeInUse, id)
	}
	_, err = r.pool.Exec(ctx, `DELETE FROM material_types WHERE id = $1`, id)
	return err
}

/* Партии сырья */

func (r *Repo) CreateLot(ctx context.Context, l Lot) (*Lot, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO material_lots (type_id, name, batch_number, quantity_kg, received_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, type_id, name, batch_number, quantity_kg, received_at, expires_at, created_at
	`, l.TypeID, l.Name, l.BatchNumber, l.QuantityKg, l.ReceivedAt, l.ExpiresAt)

	var out Lot
	if err := row.Scan(
		&out.ID, &out.TypeID, &out.Name, &out.BatchNumber,
		&out.QuantityKg, &out.ReceivedAt, &out.ExpiresAt, &out.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) GetLot(ctx context.Context, id int64) (*Lot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT l.id, l.type_id, t.name, l.name, l.batch_number, l.quantity_kg,
		       l.received_at, l.expires_at, l.created_at
		FROM material_lots l
		JOIN material_types t ON t.id = l.type_id
		WHERE l.id = $1
	`, id)
	var l Lot
	if err := row.Scan(
		&l.ID, &l.TypeID, &l.TypeName, &l.Name, &l.BatchNumber,
		&l.QuantityKg, &l.ReceivedAt, &l.ExpiresAt, &l.CreatedAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (r *Repo) ListLotsByType(ctx context.Context, typeID int64) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.id, l.type_id, t.name, l.name, l.batch_number, l.quantity_kg,
		       l.received_at, l.expires_at, l.created_at
		FROM material_lots l
		JOIN material_types t ON t.id = l.type_id
		WHERE l.type_id = $1
		ORDER BY l.expires_at ASC NULLS LAST, l.id ASC
	`, typeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLots(rows)
}

func (r *Repo) ListLots(ctx context.Context) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.id, l.type_id, t.name, l.name, l.batch_number, l.quantity_kg,
		       l.received_at, l.expires_at, l.created_at
		FROM material_lots l
		JOIN material_types t ON t.id = l.type_id
		ORDER BY t.name, l.expires_at ASC NULLS LAST, l.id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLots(rows)
}

// UpdateLot редактирует атрибуты партии (не остаток — им управляет движок).
func (r *Repo) UpdateLot(ctx context.Context, id int64, name, batchNumber string) (*Lot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE material_lots SET name=$2, batch_number=$3 WHERE id=$1
		RETURNING id, type_id, name, batch_number, quantity_kg, received_at, expires_at, created_at
	`, id, name, batchNumber)
	var l Lot
	if err := row.Scan(
		&l.ID, &l.TypeID, &l.Name, &l.BatchNumber,
		&l.QuantityKg, &l.ReceivedAt, &l.ExpiresAt, &l.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &l, nil
}

// Usage возвращает статистику использования партии по резервам замесов.
func (r *Repo) Usage(ctx context.Context, lotID int64) (*LotUsage, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(used_qty), 0), COUNT(DISTINCT batch_id)
		FROM reservations
		WHERE lot_id = $1
	`, lotID)
	u := LotUsage{LotID: lotID}
	if err := row.Scan(&u.UsedKg, &u.BatchCount); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanLots(rows pgx.Rows) ([]Lot, error) {
	var out []Lot
	for rows.Next() {
		var l Lot
		if err := rows.Scan(
			&l.ID, &l.TypeID, &l.TypeName, &l.Name, &l.BatchNumber,
			&l.QuantityKg, &l.ReceivedAt, &l.ExpiresAt, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
