// Copyright 2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filter composes dynamic read queries over the bar and statistic
// tables and returns their results as JSON built by postgres itself, so the
// chart endpoints never re-marshal row data in Go.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgsql"
	"github.com/jackc/pgx/v4"
)

var (
	ErrEmptyFrom      = errors.New("'from' cannot be empty")
	ErrBadWhereClause = errors.New("where clauses must take the form [OP].[value]")
	ErrUnknownOp      = errors.New("unrecognized operator")
)

// operators maps clause prefixes to SQL comparison templates. The ? is
// replaced with a positional argument when the statement is built.
var operators = map[string]string{
	"eq":    "%s = ?",
	"gt":    "%s > ?",
	"gte":   "%s >= ?",
	"lt":    "%s < ?",
	"lte":   "%s <= ?",
	"neq":   "%s <> ?",
	"like":  "%s like ?",
	"ilike": "%s ilike ?",
	"in":    "%s in ?",
	"is":    "%s is ?",
	"cs":    "%s @> ?",
	"cd":    "%s <@ ?",
	"ov":    "%s && ?",
	"sl":    "%s << ?",
	"sr":    "%s >> ?",
	"nxl":   "%s &> ?",
	"nxr":   "%s &< ?",
	"adj":   "%s -|- ?",
	"not":   "%s not ?",
}

// BuildQuery assembles a select statement with sanitized identifiers and
// positional arguments. fields are quoted as identifiers; safeFields are
// trusted expressions (aliases, window functions) appended verbatim. Each
// where entry holds one or more "[OP].[value]" clauses for its column, so a
// single column can carry a range. Columns are processed in sorted order to
// keep the generated text stable; pgx caches prepared statements by query
// text.
func BuildQuery(from string, fields []string, safeFields []string, where map[string][]string, order string) (string, []interface{}, error) {
	if from == "" {
		return "", nil, ErrEmptyFrom
	}

	stmt := &pgsql.SelectStatement{}
	for _, field := range fields {
		stmt.Select(pgx.Identifier{field}.Sanitize())
	}
	for _, field := range safeFields {
		stmt.Select(field)
	}

	stmt.From(pgx.Identifier{from}.Sanitize())

	columns := make([]string, 0, len(where))
	for column := range where {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	for _, column := range columns {
		ident := pgx.Identifier{column}.Sanitize()
		for _, clause := range where[column] {
			parts := strings.SplitN(clause, ".", 2)
			if len(parts) != 2 {
				return "", nil, fmt.Errorf("%w: %q", ErrBadWhereClause, clause)
			}
			op, val := parts[0], parts[1]

			tmpl, ok := operators[op]
			if !ok {
				return "", nil, fmt.Errorf("%w: %q", ErrUnknownOp, op)
			}
			stmt.Where(fmt.Sprintf(tmpl, ident), val)
		}
	}

	if order != "" {
		stmt.Order(order)
	}

	sql, args := pgsql.Build(stmt)
	return sql, args, nil
}
