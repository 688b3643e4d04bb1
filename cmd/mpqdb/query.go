package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jchantrell/mpqdb/internal/database"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Query the catalog database directly from command line",
	Long: `Query executes SQL against the catalog database, lists the available
tables, or shows a table's schema.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		listTables, err := cmd.Flags().GetBool("tables")
		if err != nil {
			return fmt.Errorf("failed to get tables flag: %w", err)
		}
		schemaTable, err := cmd.Flags().GetString("schema")
		if err != nil {
			return fmt.Errorf("failed to get schema flag: %w", err)
		}

		slog.Debug("Query parameters",
			"database", cfg.Database,
			"list-tables", listTables,
			"schema", schemaTable)

		dbOptions := database.DefaultDatabaseOptions(cfg.Database)

		db, err := database.NewDatabase(dbOptions)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer db.Close()

		if listTables {
			return printTables(ctx, db)
		}
		if schemaTable != "" {
			return printSchema(ctx, db, schemaTable)
		}
		if len(args) > 0 {
			return runQuery(ctx, db, args[0])
		}

		return fmt.Errorf("no query provided, use --tables to list tables or --schema <table> to show schema")
	},
}

func printTables(ctx context.Context, db *database.Database) error {
	rows, err := db.Query(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY name
	`)
	if err != nil {
		return fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	fmt.Println("Available tables:")
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return fmt.Errorf("scanning table name: %w", err)
		}
		fmt.Printf("  %s\n", tableName)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating table names: %w", err)
	}

	return nil
}

func printSchema(ctx context.Context, db *database.Database, table string) error {
	rows, err := db.Query(ctx, `PRAGMA table_info(`+table+`)`)
	if err != nil {
		return fmt.Errorf("getting schema for table %s: %w", table, err)
	}
	defer rows.Close()

	fmt.Printf("Schema for table '%s':\n", table)
	fmt.Printf("%-20s %-15s %-10s %-15s %-8s\n", "Column", "Type", "NotNull", "Default", "Primary")
	fmt.Println(strings.Repeat("-", 72))

	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue, primaryKey interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &primaryKey); err != nil {
			return fmt.Errorf("scanning schema row: %w", err)
		}

		defaultStr := "NULL"
		if defaultValue != nil {
			defaultStr = fmt.Sprintf("%v", defaultValue)
		}

		notNullStr := "NO"
		if notNull != 0 {
			notNullStr = "YES"
		}

		primaryStr := "NO"
		if primaryKey != nil && fmt.Sprintf("%v", primaryKey) != "0" {
			primaryStr = "YES"
		}

		fmt.Printf("%-20s %-15s %-10s %-15s %-8s\n", name, dataType, notNullStr, defaultStr, primaryStr)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating schema: %w", err)
	}

	return nil
}

func runQuery(ctx context.Context, db *database.Database, query string) error {
	slog.Debug("Executing SQL query", "query", query)

	rows, err := db.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("getting column names: %w", err)
	}

	fmt.Println(strings.Join(columns, "\t"))
	separators := make([]string, len(columns))
	for i, col := range columns {
		separators[i] = strings.Repeat("-", len(col))
	}
	fmt.Println(strings.Join(separators, "\t"))

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}

		fields := make([]string, len(values))
		for i, val := range values {
			if val == nil {
				fields[i] = "NULL"
				continue
			}
			if b, ok := val.([]byte); ok {
				fields[i] = string(b)
				continue
			}
			fields[i] = fmt.Sprintf("%v", val)
		}
		fmt.Println(strings.Join(fields, "\t"))
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rows: %w", err)
	}

	return nil
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().Bool("tables", false, "List available tables")
	queryCmd.Flags().String("schema", "", "Show schema for specified table")
}
