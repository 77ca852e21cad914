package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sahilm/fuzzy"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/catalog"
	"github.com/ekaya-inc/ekaya-fleetql/pkg/rules"
)

// SchemaCatalog is the part of the catalog the schema tool reads.
type SchemaCatalog interface {
	Tables() []catalog.Table
	Table(name string) (catalog.Table, bool)
	Describe(table string) string
}

// SchemaToolDeps contains dependencies for the schema tool.
type SchemaToolDeps struct {
	Catalog SchemaCatalog
	Rules   *rules.RuleSet
	Logger  *zap.Logger
}

type tableSummary struct {
	Name        string `json:"name"`
	Class       string `json:"class,omitempty"`
	Description string `json:"description"`
}

type schemaResult struct {
	Tables []tableSummary `json:"tables"`
}

type tableColumn struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

type tableResult struct {
	Name        string               `json:"name"`
	Columns     []tableColumn        `json:"columns"`
	ForeignKeys []catalog.ForeignKey `json:"foreign_keys,omitempty"`
}

// RegisterSchemaTools registers describe_schema.
func RegisterSchemaTools(s *server.MCPServer, deps *SchemaToolDeps) {
	tool := mcp.NewTool(
		"describe_schema",
		mcp.WithDescription(
			"List the fleet tables questions are answered from, or describe one table's columns and foreign keys.",
		),
		mcp.WithString(
			"table",
			mcp.Description("Table to describe, e.g. vehicle_master. Omit to list all tables."),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var out any
		if name := trimString(req.GetString("table", "")); name != "" {
			t, ok := deps.Catalog.Table(name)
			if !ok || deps.Rules.IsBanned(t.QualifiedName()) {
				return NewErrorResultWithDetails("table_not_found",
					fmt.Sprintf("no table named %q", name),
					map[string]any{"suggestions": deps.suggest(name)}), nil
			}
			out = describeTable(t)
		} else {
			out = deps.listTables()
		}

		jsonResult, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema: %w", err)
		}
		return mcp.NewToolResultText(string(jsonResult)), nil
	})
}

func (d *SchemaToolDeps) visible() []catalog.Table {
	var out []catalog.Table
	for _, t := range d.Catalog.Tables() {
		if !d.Rules.IsBanned(t.QualifiedName()) {
			out = append(out, t)
		}
	}
	return out
}

func (d *SchemaToolDeps) listTables() schemaResult {
	tables := d.visible()
	res := schemaResult{Tables: make([]tableSummary, 0, len(tables))}
	for _, t := range tables {
		res.Tables = append(res.Tables, tableSummary{
			Name:        t.QualifiedName(),
			Class:       d.Rules.TableClass(t.QualifiedName()),
			Description: d.Catalog.Describe(t.QualifiedName()),
		})
	}
	return res
}

// suggest returns up to three visible table names close to name.
func (d *SchemaToolDeps) suggest(name string) []string {
	var names []string
	for _, t := range d.visible() {
		names = append(names, t.Name)
	}
	matches := fuzzy.Find(name, names)
	out := make([]string, 0, 3)
	for i := 0; i < len(matches) && i < 3; i++ {
		out = append(out, matches[i].Str)
	}
	return out
}

func describeTable(t catalog.Table) tableResult {
	res := tableResult{
		Name:        t.QualifiedName(),
		Columns:     make([]tableColumn, 0, len(t.Columns)),
		ForeignKeys: t.ForeignKeys,
	}
	for _, c := range t.Columns {
		res.Columns = append(res.Columns, tableColumn{
			Name:       c.Name,
			Type:       c.Type.Label(),
			Nullable:   c.Nullable,
			PrimaryKey: c.PrimaryKey,
		})
	}
	return res
}
