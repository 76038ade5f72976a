// Package postgres implements the session store on PostgreSQL using a pgx
// connection pool. The schema is migrated on Open from embedded files.
package postgres
