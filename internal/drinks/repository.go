package drinks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "github.com/glebarez/go-sqlite"
	"go.opentelemetry.io/otel/trace"

	"github.com/plindsay/coffeeshop/internal/log"
	"github.com/plindsay/coffeeshop/pkg/telemetry"
)

const table = "drinks"

// Extended result code for a violated UNIQUE constraint.
const sqliteConstraintUnique = 2067

var (
	// ErrNotFound is returned when no drink has the requested id.
	ErrNotFound = errors.New("drink not found")
	// ErrDuplicateTitle is returned when another drink already uses the title.
	ErrDuplicateTitle = errors.New("drink title already exists")
)

// DatabaseMetrics records the outcome of each query.
type DatabaseMetrics interface {
	RecordDatabaseOperation(ctx context.Context, duration time.Duration, operation, table string, success bool)
}

// Repository stores drinks in the drinks table. Recipes are kept as JSON text.
type Repository struct {
	db      *sql.DB
	logger  *log.Logger
	metrics DatabaseMetrics
	tracing *telemetry.TracingHelper
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithTracing wraps every query in a database client span.
func WithTracing(tracing *telemetry.TracingHelper) RepositoryOption {
	return func(r *Repository) { r.tracing = tracing }
}

// NewRepository creates a repository backed by db. metrics may be nil.
func NewRepository(db *sql.DB, logger *log.Logger, metrics DatabaseMetrics, opts ...RepositoryOption) *Repository {
	if logger == nil {
		logger = log.New(nil)
	}
	r := &Repository{db: db, logger: logger, metrics: metrics}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// dbOperation tracks one query from start to finish.
type dbOperation struct {
	name string
	log  *log.DatabaseLogger
	span trace.Span
}

func (r *Repository) start(ctx context.Context, name string) (context.Context, *dbOperation) {
	op := &dbOperation{name: name}
	if r.tracing != nil {
		ctx, op.span = r.tracing.StartDatabaseSpan(ctx, name, table)
	}
	op.log = r.logger.StartDatabaseOperation(ctx, name, table)
	return ctx, op
}

func (r *Repository) finish(ctx context.Context, op *dbOperation, rows int64, err error) {
	if op.span != nil {
		telemetry.RecordError(op.span, err, "database operation failed")
		op.span.End()
	}
	if r.metrics != nil {
		r.metrics.RecordDatabaseOperation(ctx, op.log.Elapsed(), op.name, table, err == nil)
	}
	if err != nil {
		op.log.Fail(ctx, err)
		return
	}
	op.log.Complete(ctx, rows)
}

// Ping checks the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// List returns every drink ordered by id.
func (r *Repository) List(ctx context.Context) (result []Drink, err error) {
	ctx, op := r.start(ctx, "SELECT")
	defer func() { r.finish(ctx, op, int64(len(result)), err) }()

	rows, err := r.db.QueryContext(ctx, "SELECT id, title, recipe FROM drinks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query drinks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	drinks := []Drink{}
	for rows.Next() {
		d, err := scanDrink(rows)
		if err != nil {
			return nil, err
		}
		drinks = append(drinks, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drinks: %w", err)
	}
	return drinks, nil
}

// Get returns the drink with the given id or ErrNotFound.
func (r *Repository) Get(ctx context.Context, id int64) (d Drink, err error) {
	ctx, op := r.start(ctx, "SELECT")
	defer func() { r.finish(ctx, op, 1, ignoreNotFound(err)) }()

	row := r.db.QueryRowContext(ctx, "SELECT id, title, recipe FROM drinks WHERE id = ?", id)
	d, err = scanDrink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Drink{}, ErrNotFound
	}
	return d, err
}

// Create inserts a new drink and returns it with its assigned id.
func (r *Repository) Create(ctx context.Context, title string, recipe Recipe) (d Drink, err error) {
	ctx, op := r.start(ctx, "INSERT")
	defer func() { r.finish(ctx, op, 1, ignoreDuplicate(err)) }()

	encoded, err := encodeRecipe(recipe)
	if err != nil {
		return Drink{}, err
	}

	res, err := r.db.ExecContext(ctx, "INSERT INTO drinks (title, recipe) VALUES (?, ?)", title, encoded)
	if err != nil {
		return Drink{}, translateWriteError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Drink{}, fmt.Errorf("read inserted id: %w", err)
	}
	return Drink{ID: id, Title: title, Recipe: recipe}, nil
}

// Update replaces the title and recipe of an existing drink.
func (r *Repository) Update(ctx context.Context, d Drink) (err error) {
	ctx, op := r.start(ctx, "UPDATE")
	var affected int64
	defer func() { r.finish(ctx, op, affected, ignoreDuplicate(ignoreNotFound(err))) }()

	encoded, err := encodeRecipe(d.Recipe)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, "UPDATE drinks SET title = ?, recipe = ? WHERE id = ?", d.Title, encoded, d.ID)
	if err != nil {
		return translateWriteError(err)
	}
	if affected, err = res.RowsAffected(); err != nil {
		return fmt.Errorf("read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the drink with the given id or returns ErrNotFound.
func (r *Repository) Delete(ctx context.Context, id int64) (err error) {
	ctx, op := r.start(ctx, "DELETE")
	var affected int64
	defer func() { r.finish(ctx, op, affected, ignoreNotFound(err)) }()

	res, err := r.db.ExecContext(ctx, "DELETE FROM drinks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete drink: %w", err)
	}
	if affected, err = res.RowsAffected(); err != nil {
		return fmt.Errorf("read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDrink(s scanner) (Drink, error) {
	var (
		d      Drink
		recipe string
	)
	if err := s.Scan(&d.ID, &d.Title, &recipe); err != nil {
		return Drink{}, err
	}
	if err := json.Unmarshal([]byte(recipe), &d.Recipe); err != nil {
		return Drink{}, fmt.Errorf("decode recipe of drink %d: %w", d.ID, err)
	}
	return d, nil
}

func encodeRecipe(recipe Recipe) (string, error) {
	if recipe == nil {
		recipe = Recipe{}
	}
	b, err := json.Marshal(recipe)
	if err != nil {
		return "", fmt.Errorf("encode recipe: %w", err)
	}
	return string(b), nil
}

func translateWriteError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateTitle, err)
	}
	return fmt.Errorf("write drink: %w", err)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqliteConstraintUnique ||
		strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
}

// Expected outcomes are not logged as database failures.
func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func ignoreDuplicate(err error) error {
	if errors.Is(err, ErrDuplicateTitle) {
		return nil
	}
	return err
}
