// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package rowapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// isValidIdentifier checks that name matches ^[a-z0-9_]+$
func isValidIdentifier(name string) bool {
	if len(name) == 0 {
		return false
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
			return false
		}
	}
	return true
}

// initializeSchemaInTx creates the schema and one table per registered
// TableSpec. Parents must come before dependents in s.specs.
func (s *Service) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	schema := s.config.Schema
	if _, err := tx.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", schema, err)
	}

	for _, spec := range s.specs {
		if _, err := tx.Exec(ctx, createTableSQL(schema, spec)); err != nil {
			return fmt.Errorf("failed to create table %s.%s: %w", schema, spec.Name, err)
		}
		if _, ok := spec.column("case_id"); ok {
			idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_case_id ON %s.%s(case_id)`, spec.Name, schema, spec.Name)
			if _, err := tx.Exec(ctx, idx); err != nil {
				return fmt.Errorf("failed to create case index on %s: %w", spec.Name, err)
			}
		}
	}
	return nil
}

func createTableSQL(schema string, spec TableSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s.%s (\n", schema, spec.Name)
	b.WriteString("\tid UUID PRIMARY KEY DEFAULT gen_random_uuid(),\n")
	b.WriteString("\tlocal_id TEXT NOT NULL UNIQUE,\n")
	b.WriteString("\tdevice_id TEXT NOT NULL DEFAULT '',\n")
	for _, c := range spec.Columns {
		fmt.Fprintf(&b, "\t%s %s", c.Name, strings.ToUpper(string(c.Type)))
		if c.Name == "case_id" {
			fmt.Fprintf(&b, " NOT NULL REFERENCES %s.cases(id)", schema)
		}
		b.WriteString(",\n")
	}
	b.WriteString("\tserver_updated_at TIMESTAMPTZ NOT NULL DEFAULT now()\n)")
	return b.String()
}
