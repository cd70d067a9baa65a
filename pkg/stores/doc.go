// Package stores provides the deployment journal for Castellan.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and CRUD operations for deployments, stage records, rule outcomes,
// events, setting states, and audit logs.
package stores
