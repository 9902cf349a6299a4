// Package mysql opens the MySQL connection pool, applies the embedded schema
// migrations and persists the transaction submission journal.
package mysql
