// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package rowapi is the remote system of record for PPH collectors: a
// generic per-table row API over PostgreSQL.
package rowapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Abdulhalim7177/MotivAid-Native-sub001/rowproto"
)

// Error sentinels, mapped to HTTP statuses by the handlers.
var (
	ErrBadPayload        = errors.New(rowproto.ReasonBadPayload)
	ErrUnregisteredTable = errors.New(rowproto.ReasonUnregisteredTable)
	ErrUnknownColumn     = errors.New(rowproto.ReasonUnknownColumn)
	ErrFKMissing         = errors.New(rowproto.ReasonFKMissing)
	ErrRowNotFound       = errors.New("row not found")
	ErrRetryable         = errors.New("transient database conflict")
)

// ServiceConfig holds configuration for the row service
type ServiceConfig struct {
	Schema        string      // PostgreSQL schema holding the tables (default "pph")
	AppName       string      // Application name for connection tracking
	Tables        []TableSpec // Registered tables, parents first (default DefaultTables)
	MaxAttempts   int         // Attempts for serialization failures and deadlocks
	MaxSelectRows int         // Upper bound for Select results
}

func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Schema:        "pph",
		AppName:       "pph-rowapi",
		Tables:        DefaultTables,
		MaxAttempts:   3,
		MaxSelectRows: 500,
	}
}

// Service executes row operations against PostgreSQL.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	config *ServiceConfig
	specs  []TableSpec
	tables map[string]TableSpec

	mu     sync.RWMutex
	closed bool
}

// NewService creates the service from an existing pool and makes sure the
// schema exists.
func NewService(ctx context.Context, pool *pgxpool.Pool, config *ServiceConfig, logger *slog.Logger) (*Service, error) {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Schema == "" {
		config.Schema = "pph"
	}
	if len(config.Tables) == 0 {
		config.Tables = DefaultTables
	}
	if !isValidIdentifier(config.Schema) {
		return nil, fmt.Errorf("invalid schema name %q", config.Schema)
	}

	s := &Service{
		pool:   pool,
		logger: logger,
		config: config,
		specs:  config.Tables,
		tables: make(map[string]TableSpec, len(config.Tables)),
	}
	for _, spec := range config.Tables {
		if !isValidIdentifier(spec.Name) {
			return nil, fmt.Errorf("invalid table name %q", spec.Name)
		}
		for _, c := range spec.Columns {
			if !isValidIdentifier(c.Name) {
				return nil, fmt.Errorf("invalid column name %s.%q", spec.Name, c.Name)
			}
		}
		s.tables[spec.Name] = spec
	}

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize row service: %w", err)
	}
	logger.Debug("Row service schema initialized", "schema", config.Schema, "tables", len(s.specs))
	return s, nil
}

// Close marks the service closed. The pool belongs to the caller.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Pool returns the underlying database connection pool
func (s *Service) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Service) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New("row service has been closed")
	}
	return nil
}

func (s *Service) lookup(table string) (TableSpec, error) {
	if err := s.checkClosed(); err != nil {
		return TableSpec{}, err
	}
	spec, ok := s.tables[table]
	if !ok {
		return TableSpec{}, fmt.Errorf("%w: %q", ErrUnregisteredTable, table)
	}
	return spec, nil
}

func (s *Service) qualified(spec TableSpec) string {
	return s.config.Schema + "." + spec.Name
}

// encodeValue renders a JSON value as the text form PostgreSQL casts from.
// nil stays NULL.
func encodeValue(col Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if col.Type == ColJSON {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, col.Name, err)
		}
		return string(b), nil
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	}
	return nil, fmt.Errorf("%w: %s has unsupported value %T", ErrBadPayload, col.Name, v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Insert stores a row and returns its server id. Inserting a local_id that
// already exists returns the existing row's id and changes nothing.
func (s *Service) Insert(ctx context.Context, deviceID, table string, row map[string]any) (string, error) {
	spec, err := s.lookup(table)
	if err != nil {
		return "", err
	}
	localID, _ := row["local_id"].(string)
	if localID == "" {
		return "", fmt.Errorf("%w: local_id is required", ErrBadPayload)
	}

	cols := []string{"local_id", "device_id"}
	vals := []string{"$1", "$2"}
	args := []any{localID, deviceID}
	for _, name := range sortedKeys(row) {
		if name == "local_id" {
			continue
		}
		col, ok := spec.column(name)
		if !ok {
			return "", fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, name)
		}
		v, err := encodeValue(col, row[name])
		if err != nil {
			return "", err
		}
		args = append(args, v)
		cols = append(cols, col.Name)
		vals = append(vals, fmt.Sprintf("$%d::text::%s", len(args), col.Type))
	}

	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (local_id) DO UPDATE SET local_id = EXCLUDED.local_id
		RETURNING id::text`, s.qualified(spec), strings.Join(cols, ", "), strings.Join(vals, ", "))

	var id string
	err = s.withRetry(ctx, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx, q, args...).Scan(&id)
	})
	if err != nil {
		return "", fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return id, nil
}

// Update overwrites the given columns of the row with server id id.
func (s *Service) Update(ctx context.Context, deviceID, table, id string, fields map[string]any) error {
	spec, err := s.lookup(table)
	if err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s/%s", ErrRowNotFound, table, id)
	}

	args := []any{id, deviceID}
	sets := []string{"device_id = $2", "server_updated_at = now()"}
	for _, name := range sortedKeys(fields) {
		if name == "local_id" || name == "id" {
			continue
		}
		col, ok := spec.column(name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, name)
		}
		v, err := encodeValue(col, fields[name])
		if err != nil {
			return err
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d::text::%s", col.Name, len(args), col.Type))
	}

	q := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1::uuid RETURNING id::text`, s.qualified(spec), strings.Join(sets, ", "))
	var got string
	err = s.withRetry(ctx, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx, q, args...).Scan(&got)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", ErrRowNotFound, table, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", table, id, err)
	}
	return nil
}

// Delete removes the row with server id id.
func (s *Service) Delete(ctx context.Context, table, id string) error {
	spec, err := s.lookup(table)
	if err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s/%s", ErrRowNotFound, table, id)
	}

	var affected int64
	err = s.withRetry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1::uuid`, s.qualified(spec)), id)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrRowNotFound, table, id)
	}
	return nil
}

// Select returns rows whose columns equal the filter values (compared as
// text), oldest change first.
func (s *Service) Select(ctx context.Context, table string, filter map[string]string, limit int) ([]json.RawMessage, error) {
	spec, err := s.lookup(table)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.config.MaxSelectRows {
		limit = s.config.MaxSelectRows
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		where []string
		args  []any
	)
	for _, k := range keys {
		switch k {
		case "id", "local_id", "device_id":
		default:
			if _, ok := spec.column(k); !ok {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, table, k)
			}
		}
		args = append(args, filter[k])
		where = append(where, fmt.Sprintf("t.%s::text = $%d", k, len(args)))
	}
	q := fmt.Sprintf(`SELECT to_jsonb(t)::text FROM %s t`, s.qualified(spec))
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	q += fmt.Sprintf(" ORDER BY t.server_updated_at, t.id LIMIT $%d", len(args))

	var out []json.RawMessage
	err = s.withRetry(ctx, func(ctx context.Context) error {
		out = out[:0]
		rows, err := s.pool.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var doc string
			if err := rows.Scan(&doc); err != nil {
				return err
			}
			out = append(out, json.RawMessage(doc))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", table, err)
	}
	return out, nil
}
