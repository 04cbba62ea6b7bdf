// Package functions bundles the stock declarations shipped with the
// assistant. Each constructor binds a declaration to a handler reading
// live records through the ERP client.
package functions

import (
	"context"
	"fmt"
	"time"

	"github.com/cfreitas/erpagent/internal/erp"
	"github.com/cfreitas/erpagent/internal/registry"
)

// timeNow is swapped out in tests to pin date-window defaults.
var timeNow = time.Now

// CreateStockLevelsFunctionDeclaration looks up the on-hand quantity for
// an item code, summed across warehouses.
func CreateStockLevelsFunctionDeclaration(cli erp.Client) *registry.Declaration {
	return &registry.Declaration{
		Name:        "check_stock_levels",
		Description: "Fetches the current stock quantity for a given item code, summed across all warehouses.",
		Enabled:     true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"item_code": map[string]any{
					"type":        "string",
					"description": "The item code to look up, e.g. WIDGET-001",
				},
			},
			"required":             []string{"item_code"},
			"additionalProperties": false,
		},
		Response: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"item_code": map[string]any{"type": "string"},
				"quantity":  map[string]any{"type": "number"},
				"found":     map[string]any{"type": "boolean"},
				"message":   map[string]any{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, scope registry.Scope, args map[string]any) (map[string]any, error) {
			itemCode, _ := args["item_code"].(string)
			if itemCode == "" {
				return nil, fmt.Errorf("item_code is required")
			}

			exists, err := cli.Exists(ctx, "Item", itemCode)
			if err != nil {
				return nil, fmt.Errorf("look up item %q: %w", itemCode, err)
			}
			if !exists {
				return map[string]any{
					"found":   false,
					"message": fmt.Sprintf("Item %q not found.", itemCode),
				}, nil
			}

			bins, err := cli.List(ctx, "Bin", erp.ListQuery{
				Fields:  []string{"actual_qty"},
				Filters: []erp.Filter{{Field: "item_code", Operator: "=", Value: itemCode}},
			})
			if err != nil {
				return nil, fmt.Errorf("read stock for %q: %w", itemCode, err)
			}

			var qty float64
			for _, bin := range bins {
				qty += toFloat(bin["actual_qty"])
			}

			return map[string]any{
				"found":     true,
				"item_code": itemCode,
				"quantity":  qty,
				"message":   fmt.Sprintf("Stock level for item %q is %g.", itemCode, qty),
			}, nil
		},
	}
}

// toFloat tolerates the numeric shapes the ERP's JSON layer produces.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
