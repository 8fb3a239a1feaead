package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	acceptSingle = "application/vnd.pgrst.object+json"
)

// Query builds one PostgREST request against a table.
type Query struct {
	client  *Client
	table   string
	method  string
	columns string
	body    any
	upsert  bool
	filters url.Values
	order   []string
	limit   int
}

// From starts a query against table.
func (c *Client) From(table string) *Query {
	return &Query{
		client:  c,
		table:   table,
		method:  http.MethodGet,
		filters: url.Values{},
	}
}

// Select sets the returned columns. On a mutation it asks for the
// affected rows back.
func (q *Query) Select(columns string) *Query {
	q.columns = strings.TrimSpace(columns)
	return q
}

func (q *Query) Insert(v any) *Query {
	q.method = http.MethodPost
	q.body = v
	return q
}

// Upsert inserts or merges on the primary key.
func (q *Query) Upsert(v any) *Query {
	q.method = http.MethodPost
	q.body = v
	q.upsert = true
	return q
}

func (q *Query) Update(v any) *Query {
	q.method = http.MethodPatch
	q.body = v
	return q
}

func (q *Query) Delete() *Query {
	q.method = http.MethodDelete
	q.body = nil
	return q
}

func (q *Query) Eq(column, value string) *Query {
	q.filters.Add(column, "eq."+value)
	return q
}

func (q *Query) In(column string, values []string) *Query {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, quoteValue(v))
	}
	q.filters.Add(column, "in.("+strings.Join(quoted, ",")+")")
	return q
}

// Or adds a raw PostgREST disjunction such as "a.eq.1,b.eq.2".
func (q *Query) Or(expr string) *Query {
	q.filters.Add("or", "("+expr+")")
	return q
}

func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.order = append(q.order, column+"."+dir)
	return q
}

func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// ConversationFilter matches rows exchanged between a and b in either
// direction. Both ids are quoted, so reserved characters cannot change the
// expression.
func ConversationFilter(a, b string) string {
	qa, qb := quoteValue(a), quoteValue(b)
	return fmt.Sprintf(
		"and(sender_user_id.eq.%s,receiver_user_id.eq.%s),and(sender_user_id.eq.%s,receiver_user_id.eq.%s)",
		qa, qb, qb, qa,
	)
}

func (q *Query) params() url.Values {
	params := url.Values{}
	for k, vs := range q.filters {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	columns := q.columns
	if columns == "" && q.method == http.MethodGet {
		columns = "*"
	}
	if columns != "" {
		params.Set("select", columns)
	}
	if len(q.order) > 0 {
		params.Set("order", strings.Join(q.order, ","))
	}
	if q.limit > 0 {
		params.Set("limit", strconv.Itoa(q.limit))
	}
	if q.upsert {
		params.Set("on_conflict", "id")
	}
	return params
}

func (q *Query) execute(ctx context.Context, single bool) ([]byte, error) {
	req, err := q.client.newRequest(ctx, q.method, "/rest/v1/"+url.PathEscape(q.table), q.params(), q.body)
	if err != nil {
		return nil, err
	}
	if q.method != http.MethodGet {
		prefer := []string{"return=minimal"}
		if q.columns != "" {
			prefer[0] = "return=representation"
		}
		if q.upsert {
			prefer = append(prefer, "resolution=merge-duplicates")
		}
		req.Header.Set("Prefer", strings.Join(prefer, ","))
	}
	if single {
		req.Header.Set("Accept", acceptSingle)
	} else {
		req.Header.Set("Accept", "application/json")
	}
	return q.client.do(req)
}

// Exec runs a query whose rows are not needed.
func (q *Query) Exec(ctx context.Context) error {
	_, err := q.execute(ctx, false)
	return err
}

// List runs q and decodes every returned row.
func List[T any](ctx context.Context, q *Query) ([]T, error) {
	data, err := q.execute(ctx, false)
	if err != nil {
		return nil, err
	}
	return DecodeRecords[T](data)
}

// Single runs q expecting exactly one row.
func Single[T any](ctx context.Context, q *Query) (T, error) {
	data, err := q.execute(ctx, true)
	if err != nil {
		var zero T
		return zero, err
	}
	return DecodeRecord[T](data)
}

// MaybeSingle runs q expecting zero or one row; zero rows yields ErrNotFound.
func MaybeSingle[T any](ctx context.Context, q *Query) (T, error) {
	var zero T
	rows, err := List[T](ctx, q.Limit(2))
	if err != nil {
		return zero, err
	}
	switch len(rows) {
	case 0:
		return zero, ErrNotFound
	case 1:
		return rows[0], nil
	default:
		return zero, &APIError{Status: http.StatusNotAcceptable, Code: "PGRST116", Message: "multiple rows returned"}
	}
}

func quoteValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}
