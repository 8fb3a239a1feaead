package platformtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// numericIDTables get bigint identity keys; other tables get uuids.
var numericIDTables = map[string]bool{"book_store": true}

func (s *Server) handleRest(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	conds, err := parseFilters(r.URL.Query())
	if err != nil {
		restError(w, http.StatusBadRequest, "PGRST100", err.Error())
		return
	}
	single := r.Header.Get("Accept") == "application/vnd.pgrst.object+json"
	representation := strings.Contains(r.Header.Get("Prefer"), "return=representation")

	var rows []Row
	var inserted []Row
	switch r.Method {
	case http.MethodGet:
		rows = s.selectRows(table, conds, r.URL.Query())
	case http.MethodPost:
		in, err := decodeRows(r)
		if err != nil {
			restError(w, http.StatusBadRequest, "PGRST102", err.Error())
			return
		}
		merge := strings.Contains(r.Header.Get("Prefer"), "resolution=merge-duplicates")
		s.mu.Lock()
		for _, row := range in {
			if merge {
				if existing := s.findByIDLocked(table, row["id"]); existing != nil {
					for k, v := range row {
						existing[k] = v
					}
					rows = append(rows, copyRow(existing))
					continue
				}
			}
			stored := s.insertLocked(table, row)
			inserted = append(inserted, copyRow(stored))
			rows = append(rows, copyRow(stored))
		}
		s.mu.Unlock()
	case http.MethodPatch:
		var patch Row
		if err := readJSON(r, &patch); err != nil {
			restError(w, http.StatusBadRequest, "PGRST102", err.Error())
			return
		}
		s.mu.Lock()
		for _, row := range s.tables[table] {
			if matchAll(row, conds) {
				for k, v := range patch {
					row[k] = v
				}
				rows = append(rows, copyRow(row))
			}
		}
		s.mu.Unlock()
	case http.MethodDelete:
		s.mu.Lock()
		kept := s.tables[table][:0]
		for _, row := range s.tables[table] {
			if matchAll(row, conds) {
				rows = append(rows, copyRow(row))
				continue
			}
			kept = append(kept, row)
		}
		s.tables[table] = kept
		s.mu.Unlock()
	default:
		restError(w, http.StatusMethodNotAllowed, "PGRST000", "method not allowed")
		return
	}
	for _, row := range inserted {
		s.rt.broadcast(table, "INSERT", row)
	}

	if r.Method != http.MethodGet && !representation {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	if single {
		if len(rows) != 1 {
			restError(w, http.StatusNotAcceptable, "PGRST116", "JSON object requested, multiple (or no) rows returned")
			return
		}
		writeJSON(w, status, rows[0])
		return
	}
	if rows == nil {
		rows = []Row{}
	}
	writeJSON(w, status, rows)
}

func (s *Server) selectRows(table string, conds []condition, q url.Values) []Row {
	s.mu.Lock()
	var rows []Row
	for _, row := range s.tables[table] {
		if matchAll(row, conds) {
			rows = append(rows, copyRow(row))
		}
	}
	s.mu.Unlock()
	if order := q.Get("order"); order != "" {
		sortRows(rows, order)
	}
	if lim, err := strconv.Atoi(q.Get("limit")); err == nil && lim >= 0 && lim < len(rows) {
		rows = rows[:lim]
	}
	return rows
}

func (s *Server) insertLocked(table string, row Row) Row {
	stored := copyRow(row)
	if v, ok := stored["id"]; !ok || v == nil || v == "" {
		if numericIDTables[table] {
			s.nextID[table]++
			stored["id"] = float64(s.nextID[table])
		} else {
			stored["id"] = uuid.NewString()
		}
	}
	if _, ok := stored["created_at"]; !ok {
		stored["created_at"] = s.nowLocked().Format(timeLayout)
	}
	s.tables[table] = append(s.tables[table], stored)
	return stored
}

func (s *Server) findByIDLocked(table string, id any) Row {
	if id == nil {
		return nil
	}
	want := formatValue(id)
	for _, row := range s.tables[table] {
		if formatValue(row["id"]) == want {
			return row
		}
	}
	return nil
}

func decodeRows(r *http.Request) ([]Row, error) {
	var raw json.RawMessage
	if err := readJSON(r, &raw); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var rows []Row
		err := json.Unmarshal(raw, &rows)
		return rows, err
	}
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return []Row{row}, nil
}

func restError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"code": code, "message": msg, "details": nil, "hint": nil})
}

// condition is one column predicate, or a disjunction of conjunctions.
type condition struct {
	column string
	op     string
	values []string
	anyOf  [][]condition
}

var reserved = map[string]bool{"select": true, "order": true, "limit": true, "offset": true, "on_conflict": true}

func parseFilters(q url.Values) ([]condition, error) {
	var conds []condition
	for key, vals := range q {
		if reserved[key] {
			continue
		}
		for _, v := range vals {
			if key == "or" {
				c, err := parseOr(v)
				if err != nil {
					return nil, err
				}
				conds = append(conds, c)
				continue
			}
			c, err := parseOp(key, v)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
	}
	return conds, nil
}

func parseOp(column, expr string) (condition, error) {
	op, val, ok := strings.Cut(expr, ".")
	if !ok {
		return condition{}, fmt.Errorf("malformed filter %q", expr)
	}
	switch op {
	case "eq", "neq":
		return condition{column: column, op: op, values: []string{unquote(val)}}, nil
	case "in":
		val = strings.TrimSuffix(strings.TrimPrefix(val, "("), ")")
		var values []string
		for _, part := range splitTop(val) {
			values = append(values, unquote(part))
		}
		return condition{column: column, op: op, values: values}, nil
	}
	return condition{}, fmt.Errorf("unsupported operator %q", op)
}

func parseOr(expr string) (condition, error) {
	expr = strings.TrimSuffix(strings.TrimPrefix(expr, "("), ")")
	out := condition{op: "or"}
	for _, term := range splitTop(expr) {
		var group []condition
		inner := []string{term}
		if strings.HasPrefix(term, "and(") {
			inner = splitTop(strings.TrimSuffix(strings.TrimPrefix(term, "and("), ")"))
		}
		for _, t := range inner {
			col, rest, ok := strings.Cut(t, ".")
			if !ok {
				return condition{}, fmt.Errorf("malformed or term %q", t)
			}
			c, err := parseOp(col, rest)
			if err != nil {
				return condition{}, err
			}
			group = append(group, c)
		}
		out.anyOf = append(out.anyOf, group)
	}
	return out, nil
}

// splitTop splits on commas outside parentheses and quotes.
func splitTop(s string) []string {
	var parts []string
	depth, start := 0, 0
	quoted, escaped := false, false
	for i, ch := range s {
		switch {
		case escaped:
			escaped = false
		case quoted && ch == '\\':
			escaped = true
		case ch == '"':
			quoted = !quoted
		case quoted:
		case ch == '(':
			depth++
		case ch == ')':
			depth--
		case ch == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

// unquote strips PostgREST double quotes and their backslash escapes.
func unquote(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	v = v[1 : len(v)-1]
	var b strings.Builder
	escaped := false
	for _, ch := range v {
		if !escaped && ch == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(ch)
	}
	return b.String()
}

func matchAll(row Row, conds []condition) bool {
	for _, c := range conds {
		if !match(row, c) {
			return false
		}
	}
	return true
}

func match(row Row, c condition) bool {
	switch c.op {
	case "or":
		for _, group := range c.anyOf {
			if matchAll(row, group) {
				return true
			}
		}
		return false
	case "eq":
		return formatValue(row[c.column]) == c.values[0]
	case "neq":
		return formatValue(row[c.column]) != c.values[0]
	case "in":
		v := formatValue(row[c.column])
		for _, want := range c.values {
			if v == want {
				return true
			}
		}
	}
	return false
}

func sortRows(rows []Row, order string) {
	type key struct {
		column string
		desc   bool
	}
	var keys []key
	for _, part := range strings.Split(order, ",") {
		col, dir, _ := strings.Cut(part, ".")
		keys = append(keys, key{column: col, desc: strings.HasPrefix(dir, "desc")})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			c := compareValues(rows[i][k.column], rows[j][k.column])
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareValues orders nulls last in ascending order, like Postgres.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(formatValue(a), formatValue(b))
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
