// Package postgres provides PostgreSQL-specific implementations for the data
// storage interfaces (repositories) defined in the internal/store package.
// It handles the details of database connections, query execution, and data
// mapping between domain entities and database records.
//
// The task and workflow stores are the persistence backbone of the scheduling
// engine: claims use FOR UPDATE SKIP LOCKED so concurrent passes never hand
// the same task to two workers, and every lifecycle change is a conditional
// UPDATE keyed on the expected prior state. Schema migrations are embedded in
// the binary and applied through goose.
package postgres
