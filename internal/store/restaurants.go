package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/steven-haddix/nomnom/internal/model/business"
)

// RestaurantStore provides CRUD over the restaurants table.
type RestaurantStore struct {
	pool *pgxpool.Pool
}

// NewRestaurantStore creates a restaurant store on the shared pool.
func NewRestaurantStore(pool *pgxpool.Pool) *RestaurantStore {
	return &RestaurantStore{pool: pool}
}

const restaurantColumns = "id, name, address, phone, website, operating_hours, cuisine_type, delivery_options, created_at, updated_at"

func scanRestaurant(row pgx.Row) (business.Restaurant, error) {
	var r business.Restaurant
	err := row.Scan(&r.ID, &r.Name, &r.Address, &r.Phone, &r.Website,
		&r.OperatingHours, &r.CuisineType, &r.DeliveryOptions, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// Create inserts a restaurant and returns it with its assigned id.
func (s *RestaurantStore) Create(ctx context.Context, r business.Restaurant) (business.Restaurant, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO restaurants (name, address, phone, website, operating_hours, cuisine_type, delivery_options)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+restaurantColumns,
		r.Name, r.Address, r.Phone, r.Website, r.OperatingHours, r.CuisineType, r.DeliveryOptions)

	created, err := scanRestaurant(row)
	if err != nil {
		return business.Restaurant{}, fmt.Errorf("create restaurant: %w", err)
	}
	return created, nil
}

// GetByID fetches one restaurant by primary key.
func (s *RestaurantStore) GetByID(ctx context.Context, id int64) (business.Restaurant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+restaurantColumns+` FROM restaurants WHERE id = $1`, id)
	r, err := scanRestaurant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return business.Restaurant{}, fmt.Errorf("restaurant %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return business.Restaurant{}, fmt.Errorf("fetch restaurant %d: %w", id, err)
	}
	return r, nil
}

// GetByPhone resolves the restaurant a caller dialled.
func (s *RestaurantStore) GetByPhone(ctx context.Context, phone string) (business.Restaurant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+restaurantColumns+` FROM restaurants WHERE phone = $1 LIMIT 1`, phone)
	r, err := scanRestaurant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return business.Restaurant{}, fmt.Errorf("restaurant with phone %s: %w", phone, ErrNotFound)
	}
	if err != nil {
		return business.Restaurant{}, fmt.Errorf("fetch restaurant by phone %s: %w", phone, err)
	}
	return r, nil
}

// List returns every restaurant.
func (s *RestaurantStore) List(ctx context.Context) ([]business.Restaurant, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+restaurantColumns+` FROM restaurants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list restaurants: %w", err)
	}
	defer rows.Close()

	var out []business.Restaurant
	for rows.Next() {
		r, err := scanRestaurant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan restaurant: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Update rewrites a restaurant's mutable fields.
func (s *RestaurantStore) Update(ctx context.Context, r business.Restaurant) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE restaurants
		 SET name = $2, address = $3, phone = $4, website = $5,
		     operating_hours = $6, cuisine_type = $7, delivery_options = $8,
		     updated_at = now()
		 WHERE id = $1`,
		r.ID, r.Name, r.Address, r.Phone, r.Website, r.OperatingHours, r.CuisineType, r.DeliveryOptions)
	if err != nil {
		return fmt.Errorf("update restaurant %d: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("restaurant %d: %w", r.ID, ErrNotFound)
	}
	return nil
}

// Delete removes a restaurant.
func (s *RestaurantStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM restaurants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete restaurant %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("restaurant %d: %w", id, ErrNotFound)
	}
	return nil
}
