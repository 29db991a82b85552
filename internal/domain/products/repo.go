package products

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInUse = errors.New("products: product is referenced")

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

func (r *Repo) Create(ctx context.Context, name string) (*Product, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO products (name)
		VALUES ($1)
		RETURNING id, name, created_at
	`, name)
	var p Product
	if err := row.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) GetByID(ctx context.Context, id int64) (*Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, created_at FROM products WHERE id = $1`, id)
	var p Product
	if err := row.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repo) List(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM products ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete запрещён, пока на продукт ссылаются рецептуры или планы.
func (r *Repo) Delete(ctx context.Context, id int64) error {
	var refs int
	err := r.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM recipe_templates WHERE product_id = $1)
		     + (SELECT COUNT(*) FROM production_plans WHERE product_id = $1)
	`, id).Scan(&refs)
	if err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: product %d", ErrInUse, id)
	}
	_, err = r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	return err
}
