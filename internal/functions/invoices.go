package functions

import (
	"context"
	"fmt"

	"github.com/cfreitas/erpagent/internal/erp"
	"github.com/cfreitas/erpagent/internal/registry"
)

// CreateOverdueInvoicesFunctionDeclaration lists submitted, unpaid sales
// invoices past their due date, optionally filtered by customer.
func CreateOverdueInvoicesFunctionDeclaration(cli erp.Client) *registry.Declaration {
	return &registry.Declaration{
		Name:        "list_overdue_invoices",
		Description: "Lists submitted sales invoices that are past their due date and not fully paid, optionally for a single customer.",
		Enabled:     true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"customer": map[string]any{
					"type":        "string",
					"description": "Customer name to filter by. Omit to include all customers.",
				},
			},
			"additionalProperties": false,
		},
		Response: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"count":             map[string]any{"type": "integer"},
				"total_outstanding": map[string]any{"type": "number"},
				"invoices":          map[string]any{"type": "array"},
				"message":           map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, scope registry.Scope, args map[string]any) (map[string]any, error) {
			customer, _ := args["customer"].(string)

			if customer != "" {
				exists, err := cli.Exists(ctx, "Customer", customer)
				if err != nil {
					return nil, fmt.Errorf("look up customer %q: %w", customer, err)
				}
				if !exists {
					return map[string]any{
						"found":   false,
						"message": fmt.Sprintf("Customer %q not found.", customer),
					}, nil
				}
			}

			today := timeNow().UTC().Format(dateLayout)
			filters := []erp.Filter{
				{Field: "docstatus", Operator: "=", Value: 1},
				{Field: "status", Operator: "not in", Value: []string{"Paid", "Cancelled"}},
				{Field: "due_date", Operator: "<", Value: today},
			}
			if customer != "" {
				filters = append(filters, erp.Filter{Field: "customer", Operator: "=", Value: customer})
			}

			invoices, err := cli.List(ctx, "Sales Invoice", erp.ListQuery{
				Fields:  []string{"name", "customer", "due_date", "outstanding_amount"},
				Filters: filters,
				OrderBy: "due_date asc",
			})
			if err != nil {
				return nil, fmt.Errorf("read sales invoices: %w", err)
			}

			if len(invoices) == 0 {
				msg := "No overdue invoices found."
				if customer != "" {
					msg = fmt.Sprintf("No overdue invoices found for customer %q.", customer)
				}
				return map[string]any{
					"count":             0,
					"total_outstanding": 0.0,
					"message":           msg,
				}, nil
			}

			var outstanding float64
			rows := make([]map[string]any, 0, len(invoices))
			for _, inv := range invoices {
				outstanding += toFloat(inv["outstanding_amount"])
				rows = append(rows, map[string]any{
					"name":               inv["name"],
					"customer":           inv["customer"],
					"due_date":           inv["due_date"],
					"outstanding_amount": toFloat(inv["outstanding_amount"]),
				})
			}

			msg := fmt.Sprintf("Found %d overdue invoices totaling %.2f outstanding.", len(invoices), outstanding)
			if customer != "" {
				msg = fmt.Sprintf("Found %d overdue invoices for customer %q totaling %.2f outstanding.", len(invoices), customer, outstanding)
			}

			return map[string]any{
				"count":             len(invoices),
				"total_outstanding": outstanding,
				"invoices":          rows,
				"message":           msg,
			}, nil
		},
	}
}
