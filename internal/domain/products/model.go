package products

import "time"

// Product — выпускаемый продукт (справочник).
type Product struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}
