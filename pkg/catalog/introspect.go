package catalog

import (
	"context"
	"fmt"
	"strings"
)

const columnsQuery = `
	SELECT
		c.table_schema,
		c.table_name,
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES' AS is_nullable
	FROM information_schema.columns c
	JOIN information_schema.tables t
		ON t.table_schema = c.table_schema
		AND t.table_name = c.table_name
	WHERE t.table_type IN ('BASE TABLE', 'VIEW')
	  AND c.table_schema = ANY($1)
	ORDER BY c.table_schema, c.table_name, c.ordinal_position
`

const primaryKeysQuery = `
	SELECT
		kcu.table_schema,
		kcu.table_name,
		kcu.column_name
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	WHERE tc.constraint_type = 'PRIMARY KEY'
	  AND tc.table_schema = ANY($1)
	ORDER BY kcu.table_schema, kcu.table_name, kcu.ordinal_position
`

const foreignKeysQuery = `
	SELECT
		kcu.table_schema AS source_schema,
		kcu.table_name AS source_table,
		kcu.column_name AS source_column,
		ccu.table_schema AS target_schema,
		ccu.table_name AS target_table,
		ccu.column_name AS target_column
	FROM information_schema.table_constraints tc
	JOIN information_schema.key_column_usage kcu
		ON tc.constraint_name = kcu.constraint_name
		AND tc.table_schema = kcu.table_schema
	JOIN information_schema.constraint_column_usage ccu
		ON tc.constraint_name = ccu.constraint_name
		AND tc.table_schema = ccu.table_schema
	WHERE tc.constraint_type = 'FOREIGN KEY'
	  AND tc.table_schema = ANY($1)
	ORDER BY kcu.table_schema, kcu.table_name, kcu.column_name
`

func introspect(ctx context.Context, q Querier, schemas []string) ([]Table, error) {
	colRes, err := q.Query(ctx, columnsQuery, schemas)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}

	var tables []Table
	index := make(map[string]int)
	for _, row := range colRes.Rows {
		schema, name := str(row["table_schema"]), str(row["table_name"])
		key := strings.ToLower(schema + "." + name)
		i, ok := index[key]
		if !ok {
			tables = append(tables, Table{Schema: schema, Name: name})
			i = len(tables) - 1
			index[key] = i
		}
		pgType := str(row["data_type"])
		nullable, _ := row["is_nullable"].(bool)
		tables[i].Columns = append(tables[i].Columns, Column{
			Name:     str(row["column_name"]),
			PGType:   pgType,
			Type:     ClassifyType(pgType),
			Nullable: nullable,
		})
	}

	pkRes, err := q.Query(ctx, primaryKeysQuery, schemas)
	if err != nil {
		return nil, fmt.Errorf("query primary keys: %w", err)
	}
	for _, row := range pkRes.Rows {
		i, ok := index[strings.ToLower(str(row["table_schema"])+"."+str(row["table_name"]))]
		if !ok {
			continue
		}
		col := str(row["column_name"])
		tables[i].PrimaryKey = append(tables[i].PrimaryKey, col)
		for j := range tables[i].Columns {
			if tables[i].Columns[j].Name == col {
				tables[i].Columns[j].PrimaryKey = true
			}
		}
	}

	fkRes, err := q.Query(ctx, foreignKeysQuery, schemas)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	for _, row := range fkRes.Rows {
		i, ok := index[strings.ToLower(str(row["source_schema"])+"."+str(row["source_table"]))]
		if !ok {
			continue
		}
		tables[i].ForeignKeys = append(tables[i].ForeignKeys, ForeignKey{
			Column:    strings.ToLower(str(row["source_column"])),
			RefTable:  strings.ToLower(str(row["target_schema"]) + "." + str(row["target_table"])),
			RefColumn: strings.ToLower(str(row["target_column"])),
		})
	}

	return tables, nil
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
