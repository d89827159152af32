package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"wholesale-market/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("duplicate row")
	// ErrStockFunctionMissing means the atomic stock functions are not installed.
	ErrStockFunctionMissing = errors.New("stock adjustment function not installed")
)

const (
	pqUniqueViolation   = "23505"
	pqUndefinedFunction = "42883"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection.
func NewStoreFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pqCode(err) == pqUniqueViolation
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs; missing ids are simply absent.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// DecrementStockAtomic runs decrement_stock, which clamps at zero in one UPDATE.
func (s *Store) DecrementStockAtomic(ctx context.Context, productID uuid.UUID, quantity int) (int, error) {
	return s.callStockFunction(ctx, "SELECT decrement_stock($1, $2)", productID, quantity)
}

// IncrementStockAtomic runs increment_stock.
func (s *Store) IncrementStockAtomic(ctx context.Context, productID uuid.UUID, quantity int) (int, error) {
	return s.callStockFunction(ctx, "SELECT increment_stock($1, $2)", productID, quantity)
}

func (s *Store) callStockFunction(ctx context.Context, query string, productID uuid.UUID, quantity int) (int, error) {
	var stock sql.NullInt64
	err := s.db.GetContext(ctx, &stock, query, productID, quantity)
	if pqCode(err) == pqUndefinedFunction {
		return 0, ErrStockFunctionMissing
	}
	if err != nil {
		return 0, err
	}
	if !stock.Valid {
		return 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return int(stock.Int64), nil
}

// GetStockQuantity reads the current stock of a product.
func (s *Store) GetStockQuantity(ctx context.Context, productID uuid.UUID) (int, error) {
	var stock int
	err := s.db.GetContext(ctx, &stock, "SELECT stock_quantity FROM products WHERE id = $1", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return stock, err
}

// SetStockQuantity overwrites the stock of a product.
func (s *Store) SetStockQuantity(ctx context.Context, productID uuid.UUID, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET stock_quantity = $1, updated_at = NOW() WHERE id = $2",
		quantity, productID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return nil
}
