package functions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfreitas/erpagent/internal/erp"
	"github.com/cfreitas/erpagent/internal/registry"
)

// fakeClient scripts ERP reads per doctype.
type fakeClient struct {
	exists    map[string]bool
	existsErr error
	lists     map[string][]map[string]any
	listErr   error

	// lastQuery records the query per doctype for filter assertions.
	lastQuery map[string]erp.ListQuery
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		exists:    make(map[string]bool),
		lists:     make(map[string][]map[string]any),
		lastQuery: make(map[string]erp.ListQuery),
	}
}

func (f *fakeClient) Exists(_ context.Context, doctype, name string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.exists[doctype+"/"+name], nil
}

func (f *fakeClient) GetDoc(context.Context, string, string) (map[string]any, error) {
	return nil, erp.ErrNotFound
}

func (f *fakeClient) List(_ context.Context, doctype string, q erp.ListQuery) ([]map[string]any, error) {
	f.lastQuery[doctype] = q
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.lists[doctype], nil
}

func (f *fakeClient) DownloadFile(context.Context, string) ([]byte, error) {
	return nil, erp.ErrNotFound
}

func pinNow(t *testing.T, value time.Time) {
	t.Helper()
	orig := timeNow
	timeNow = func() time.Time { return value }
	t.Cleanup(func() { timeNow = orig })
}

func run(t *testing.T, d *registry.Declaration, args map[string]any) (map[string]any, error) {
	t.Helper()
	return d.Handler(context.Background(), registry.Scope{User: "alice"}, args)
}

func TestStockLevelsSumsAcrossWarehouses(t *testing.T) {
	cli := newFakeClient()
	cli.exists["Item/WIDGET-001"] = true
	cli.lists["Bin"] = []map[string]any{
		{"actual_qty": 60.0},
		{"actual_qty": 25.0},
	}

	out, err := run(t, CreateStockLevelsFunctionDeclaration(cli), map[string]any{"item_code": "WIDGET-001"})
	require.NoError(t, err)
	assert.Equal(t, true, out["found"])
	assert.Equal(t, "WIDGET-001", out["item_code"])
	assert.Equal(t, 85.0, out["quantity"])
	assert.Contains(t, out["message"], "85")
}

func TestStockLevelsUnknownItemIsStructuredResult(t *testing.T) {
	cli := newFakeClient()

	out, err := run(t, CreateStockLevelsFunctionDeclaration(cli), map[string]any{"item_code": "NOPE-999"})
	require.NoError(t, err)
	assert.Equal(t, false, out["found"])
	assert.Contains(t, out["message"], "NOPE-999")
}

func TestStockLevelsERPFailureIsError(t *testing.T) {
	cli := newFakeClient()
	cli.existsErr = errors.New("connection refused")

	_, err := run(t, CreateStockLevelsFunctionDeclaration(cli), map[string]any{"item_code": "WIDGET-001"})
	assert.Error(t, err)
}

func TestSalesReportDefaultsToTrailing30Days(t *testing.T) {
	pinNow(t, time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC))

	cli := newFakeClient()
	cli.lists["Sales Order"] = []map[string]any{
		{"name": "SO-0001", "grand_total": 1000.0},
		{"name": "SO-0002", "grand_total": 250.5},
	}

	out, err := run(t, CreateSalesReportFunctionDeclaration(cli), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "2026-02-13", out["start_date"])
	assert.Equal(t, "2026-03-15", out["end_date"])
	assert.Equal(t, 2, out["total_orders"])
	assert.Equal(t, 1250.5, out["total_sales_amount"])

	q := cli.lastQuery["Sales Order"]
	require.Len(t, q.Filters, 2)
	assert.Equal(t, erp.Filter{Field: "docstatus", Operator: "=", Value: 1}, q.Filters[0])
	assert.Equal(t, []string{"2026-02-13", "2026-03-15"}, q.Filters[1].Value)
}

func TestSalesReportExplicitRange(t *testing.T) {
	cli := newFakeClient()

	out, err := run(t, CreateSalesReportFunctionDeclaration(cli), map[string]any{
		"start_date": "2026-01-01",
		"end_date":   "2026-01-31",
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01", out["start_date"])
	assert.Equal(t, "2026-01-31", out["end_date"])
	assert.Equal(t, 0, out["total_orders"])
	assert.Contains(t, out["message"], "No submitted sales orders")
}

func TestSalesReportRejectsBadDates(t *testing.T) {
	cli := newFakeClient()
	decl := CreateSalesReportFunctionDeclaration(cli)

	tests := []map[string]any{
		{"start_date": "01/01/2026"},
		{"end_date": "yesterday"},
		{"start_date": "2026-02-01", "end_date": "2026-01-01"},
	}
	for _, args := range tests {
		_, err := run(t, decl, args)
		assert.Error(t, err)
	}
}

func TestOverdueInvoices(t *testing.T) {
	pinNow(t, time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC))

	cli := newFakeClient()
	cli.lists["Sales Invoice"] = []map[string]any{
		{"name": "SINV-0001", "customer": "ACME Corp", "due_date": "2026-02-01", "outstanding_amount": 500.0},
		{"name": "SINV-0002", "customer": "Globex", "due_date": "2026-03-01", "outstanding_amount": 120.0},
	}

	out, err := run(t, CreateOverdueInvoicesFunctionDeclaration(cli), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 2, out["count"])
	assert.Equal(t, 620.0, out["total_outstanding"])
	require.Len(t, out["invoices"], 2)

	q := cli.lastQuery["Sales Invoice"]
	require.Len(t, q.Filters, 3)
	assert.Equal(t, "due_date", q.Filters[2].Field)
	assert.Equal(t, "2026-03-15", q.Filters[2].Value)
	assert.Equal(t, "due_date asc", q.OrderBy)
}

func TestOverdueInvoicesFiltersByCustomer(t *testing.T) {
	cli := newFakeClient()
	cli.exists["Customer/ACME Corp"] = true
	cli.lists["Sales Invoice"] = []map[string]any{
		{"name": "SINV-0001", "customer": "ACME Corp", "due_date": "2026-02-01", "outstanding_amount": 500.0},
	}

	out, err := run(t, CreateOverdueInvoicesFunctionDeclaration(cli), map[string]any{"customer": "ACME Corp"})
	require.NoError(t, err)
	assert.Equal(t, 1, out["count"])

	q := cli.lastQuery["Sales Invoice"]
	require.Len(t, q.Filters, 4)
	assert.Equal(t, erp.Filter{Field: "customer", Operator: "=", Value: "ACME Corp"}, q.Filters[3])
}

func TestOverdueInvoicesUnknownCustomer(t *testing.T) {
	cli := newFakeClient()

	out, err := run(t, CreateOverdueInvoicesFunctionDeclaration(cli), map[string]any{"customer": "Nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, false, out["found"])
	assert.Empty(t, cli.lastQuery["Sales Invoice"].Filters)
}

func TestOverdueInvoicesNoneFound(t *testing.T) {
	cli := newFakeClient()

	out, err := run(t, CreateOverdueInvoicesFunctionDeclaration(cli), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, out["count"])
	assert.Contains(t, out["message"], "No overdue invoices")
}
