package types

// DBInfo contains connection and metadata information
type DBInfo struct {
	Dialect string `json:"dialect"` // postgres, mysql, mariadb, sqlite
	Version string `json:"version"`
	Schema  string `json:"schema"` // public, database name, main
	URL     string `json:"url"`    // redacted connection URL (for reference)
}

// DBForeignKey represents one column of a foreign key constraint read from the database
type DBForeignKey struct {
	Name          string `json:"name"`           // constraint name, empty when the engine does not expose one
	TableName     string `json:"table_name"`     // referencing (child) table
	ColumnName    string `json:"column_name"`    // referencing column
	ForeignTable  string `json:"foreign_table"`  // referenced (parent) table
	ForeignColumn string `json:"foreign_column"` // referenced column
	UpdateRule    string `json:"update_rule"`    // CASCADE, RESTRICT, NO ACTION, ...
	DeleteRule    string `json:"delete_rule"`
}
