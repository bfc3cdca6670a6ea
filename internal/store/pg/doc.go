// Package pg is the PostgreSQL storage collaborator. It implements the
// orchestrator store, the validator source, the group directory and the
// public-key directory over database/sql with the pgx driver. Migrate
// creates the schema in schema.sql.
package pg
