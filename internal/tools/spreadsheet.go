package tools

import (
	"context"
	"fmt"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/expr-lang/expr"
)

// SpreadsheetToolName is the registry name of the spreadsheet tool.
const SpreadsheetToolName = "spreadsheet"

// NewSpreadsheetTool evaluates a formula over a set of rows.
// The formula sees `rows` (list of objects) and `columns` (name -> list of values),
// e.g. `sum(columns.amount)` or `len(filter(rows, .region == "EU"))`.
func NewSpreadsheetTool() Tool {
	return &Func{
		ToolSpec: models.ToolSpec{
			Name:        SpreadsheetToolName,
			Description: "Evaluate a spreadsheet formula over rows. Input: rows (list of objects), formula (expression using rows or columns).",
			Input: models.InputSchema{
				Properties: map[string]models.Property{
					"rows":    {Type: "array", Description: "list of row objects"},
					"formula": {Type: "string", Description: "expression, e.g. sum(columns.amount)"},
				},
				Required: []string{"rows", "formula"},
			},
		},
		Fn: func(_ context.Context, input map[string]interface{}) (string, error) {
			rows, _ := input["rows"].([]interface{})
			env := map[string]interface{}{
				"rows":    rows,
				"columns": columnsOf(rows),
			}
			program, err := expr.Compile(str(input, "formula"), expr.Env(env))
			if err != nil {
				return "", &ToolError{Kind: ErrInvalidInput, Tool: SpreadsheetToolName, Detail: err.Error()}
			}
			out, err := expr.Run(program, env)
			if err != nil {
				return "", err
			}
			return fmt.Sprint(out), nil
		},
	}
}

func columnsOf(rows []interface{}) map[string]interface{} {
	cols := make(map[string][]interface{})
	for _, r := range rows {
		obj, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		for k, v := range obj {
			cols[k] = append(cols[k], v)
		}
	}
	out := make(map[string]interface{}, len(cols))
	for k, v := range cols {
		out[k] = v
	}
	return out
}
