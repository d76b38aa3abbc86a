// Package database provides a thin SQLite wrapper for ad-hoc persistence.
//
// Store exposes connect / execute / fetch operations over database/sql
// without any schema management of its own, plus a small table builder.
// IPLog builds on Store to keep the addresses observed while rotating.
//
// The driver is modernc.org/sqlite, a CGO-free SQLite, so the binary
// cross-compiles without a C toolchain.
package database
