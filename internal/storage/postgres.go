package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq" // postgres driver
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chainscope/txgate/internal/observability"
)

const storageTracerName = "txgate/storage"

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	// DSN is the lib/pq connection string.
	DSN string `yaml:"dsn"`

	// MaxOpenConns and MaxIdleConns bound the connection pool.
	MaxOpenConns int `yaml:"maxOpenConns"`
	MaxIdleConns int `yaml:"maxIdleConns"`

	// ConnMaxLifetime recycles pooled connections.
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DefaultPostgresConfig returns the Postgres configuration defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	logger observability.Logger
}

// NewPostgresStore opens a connection pool and verifies it with a ping.
func NewPostgresStore(cfg *PostgresConfig, logger observability.Logger) (*PostgresStore, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	def := DefaultPostgresConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = def.MaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = def.ConnMaxLifetime
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres store initialized",
		observability.Int("maxOpenConns", cfg.MaxOpenConns))

	return &PostgresStore{db: db, logger: logger}, nil
}

const transactionColumns = "signature, slot, block_time, from_account, to_account, program_id, lamports, fee, status"

// buildListQuery renders the WHERE/ORDER/LIMIT clauses for a normalized
// filter. It returns the data query, the matching count query and the
// positional arguments shared by both.
func buildListQuery(f *ListFilter) (string, string, []any) {
	var where []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if f.Signature != "" {
		add("signature = $%d", f.Signature)
	}
	if f.From != "" {
		add("from_account = $%d", f.From)
	}
	if f.To != "" {
		add("to_account = $%d", f.To)
	}
	if f.ProgramID != "" {
		add("program_id = $%d", f.ProgramID)
	}
	if f.SlotFrom > 0 {
		add("slot >= $%d", int64(f.SlotFrom))
	}
	if f.SlotTo > 0 {
		add("slot <= $%d", int64(f.SlotTo))
	}

	var cond string
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	// SortBy and Order come from the normalized whitelist, never from raw
	// user input, so interpolating them is safe.
	order := " ORDER BY " + f.SortBy + " " + strings.ToUpper(f.Order)
	if f.SortBy != SortBySignature {
		order += ", signature " + strings.ToUpper(f.Order)
	}

	limit := " LIMIT " + strconv.Itoa(f.Limit) + " OFFSET " + strconv.Itoa(f.Offset)

	query := "SELECT " + transactionColumns + " FROM transactions" + cond + order + limit
	count := "SELECT COUNT(*) FROM transactions" + cond

	return query, count, args
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, filter *ListFilter) (*Page, error) {
	if err := filter.Normalize(); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(storageTracerName).Start(ctx, "storage.List",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("storage.sort_by", filter.SortBy),
			attribute.Int("storage.limit", filter.Limit),
		),
	)
	defer span.End()

	start := time.Now()
	var err error
	defer func() { observeQuery("list", err, time.Since(start).Seconds()) }()

	query, countQuery, args := buildListQuery(filter)

	var total int64
	if err = s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("count transactions: %w", err)
	}

	rows, qerr := s.db.QueryContext(ctx, query, args...)
	if qerr != nil {
		err = qerr
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	items := make([]Transaction, 0, filter.Limit)
	for rows.Next() {
		var tx Transaction
		if err = scanTransaction(rows, &tx); err != nil {
			return nil, err
		}
		items = append(items, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	span.SetAttributes(attribute.Int("storage.rows", len(items)))

	return &Page{
		Items:  items,
		Limit:  filter.Limit,
		Offset: filter.Offset,
		Total:  total,
	}, nil
}

// GetBySignature implements Store.
func (s *PostgresStore) GetBySignature(ctx context.Context, signature string) (*Transaction, error) {
	ctx, span := otel.Tracer(storageTracerName).Start(ctx, "storage.GetBySignature",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "postgresql")),
	)
	defer span.End()

	start := time.Now()
	var err error
	defer func() { observeQuery("get", err, time.Since(start).Seconds()) }()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE signature = $1", signature)

	var tx Transaction
	err = scanTransaction(row, &tx)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
		return nil, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &tx, nil
}

// Insert implements Store. Conflicting signatures are ignored so ingest can
// replay deliveries.
func (s *PostgresStore) Insert(ctx context.Context, tx *Transaction) error {
	ctx, span := otel.Tracer(storageTracerName).Start(ctx, "storage.Insert",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "postgresql")),
	)
	defer span.End()

	start := time.Now()
	var err error
	defer func() { observeQuery("insert", err, time.Since(start).Seconds()) }()

	var blockTime sql.NullTime
	if !tx.BlockTime.IsZero() {
		blockTime = sql.NullTime{Time: tx.BlockTime, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (signature) DO NOTHING`,
		tx.Signature, int64(tx.Slot), blockTime, tx.From, tx.To,
		tx.ProgramID, int64(tx.Lamports), int64(tx.Fee), tx.Status,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// Ping implements Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner, tx *Transaction) error {
	var slot, lamports, fee int64
	var blockTime sql.NullTime

	if err := row.Scan(&tx.Signature, &slot, &blockTime, &tx.From, &tx.To,
		&tx.ProgramID, &lamports, &fee, &tx.Status); err != nil {
		return err
	}

	tx.Slot = uint64(slot)
	tx.Lamports = uint64(lamports)
	tx.Fee = uint64(fee)
	if blockTime.Valid {
		tx.BlockTime = blockTime.Time
	}
	return nil
}
