package functions

import (
	"context"
	"fmt"
	"time"

	"github.com/cfreitas/erpagent/internal/erp"
	"github.com/cfreitas/erpagent/internal/registry"
)

const dateLayout = "2006-01-02"

// CreateSalesReportFunctionDeclaration summarises submitted sales orders
// over a date range, defaulting to the trailing 30 days.
func CreateSalesReportFunctionDeclaration(cli erp.Client) *registry.Declaration {
	return &registry.Declaration{
		Name:        "generate_sales_report",
		Description: "Generates a summary of submitted sales orders in a date range. Dates are YYYY-MM-DD; when omitted, the trailing 30 days ending today are used.",
		Enabled:     true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_date": map[string]any{
					"type":        "string",
					"description": "Range start, YYYY-MM-DD. Defaults to 30 days before the end date.",
				},
				"end_date": map[string]any{
					"type":        "string",
					"description": "Range end, YYYY-MM-DD. Defaults to today.",
				},
			},
			"additionalProperties": false,
		},
		Response: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"start_date":         map[string]any{"type": "string"},
				"end_date":           map[string]any{"type": "string"},
				"total_orders":       map[string]any{"type": "integer"},
				"total_sales_amount": map[string]any{"type": "number"},
				"message":            map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, scope registry.Scope, args map[string]any) (map[string]any, error) {
			end := timeNow().UTC().Truncate(24 * time.Hour)
			if raw, _ := args["end_date"].(string); raw != "" {
				parsed, err := time.Parse(dateLayout, raw)
				if err != nil {
					return nil, fmt.Errorf("invalid end_date %q: expected YYYY-MM-DD", raw)
				}
				end = parsed
			}

			start := end.AddDate(0, 0, -30)
			if raw, _ := args["start_date"].(string); raw != "" {
				parsed, err := time.Parse(dateLayout, raw)
				if err != nil {
					return nil, fmt.Errorf("invalid start_date %q: expected YYYY-MM-DD", raw)
				}
				start = parsed
			}

			if start.After(end) {
				return nil, fmt.Errorf("start_date %s is after end_date %s", start.Format(dateLayout), end.Format(dateLayout))
			}

			startStr := start.Format(dateLayout)
			endStr := end.Format(dateLayout)

			orders, err := cli.List(ctx, "Sales Order", erp.ListQuery{
				Fields: []string{"name", "customer", "grand_total", "transaction_date"},
				Filters: []erp.Filter{
					{Field: "docstatus", Operator: "=", Value: 1},
					{Field: "transaction_date", Operator: "between", Value: []string{startStr, endStr}},
				},
			})
			if err != nil {
				return nil, fmt.Errorf("read sales orders: %w", err)
			}

			if len(orders) == 0 {
				return map[string]any{
					"start_date":         startStr,
					"end_date":           endStr,
					"total_orders":       0,
					"total_sales_amount": 0.0,
					"message":            fmt.Sprintf("No submitted sales orders found between %s and %s.", startStr, endStr),
				}, nil
			}

			var total float64
			for _, order := range orders {
				total += toFloat(order["grand_total"])
			}

			return map[string]any{
				"start_date":         startStr,
				"end_date":           endStr,
				"total_orders":       len(orders),
				"total_sales_amount": total,
				"message":            fmt.Sprintf("Found %d submitted sales orders totaling %.2f between %s and %s.", len(orders), total, startStr, endStr),
			}, nil
		},
	}
}
