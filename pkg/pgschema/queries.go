package pgschema

const (
	querySelectPrefixTables = `
SELECT table_name
FROM   information_schema.tables
WHERE  table_schema = 'public'
AND    table_type = 'BASE TABLE'
AND    left(table_name, length($1)) = $1
ORDER BY table_name;
`
	querySelectTextColumns = `
SELECT column_name, data_type
FROM   information_schema.columns
WHERE  table_schema = 'public'
AND    table_name = $1
AND    data_type IN ('text', 'character varying', 'character')
ORDER BY ordinal_position;
`
	querySelectPrimaryKey = `
SELECT a.attname
FROM   pg_index i
JOIN   pg_attribute a ON a.attrelid = i.indrelid
                     AND a.attnum   = ANY(i.indkey)
WHERE  i.indrelid = $1::regclass
AND    i.indisprimary
ORDER BY a.attnum;
`
)
