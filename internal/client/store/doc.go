// Package store is the local object store: named collections of JSON
// documents with secondary indexes, persisted in an embedded SQLite file.
//
// Each collection is a table holding the primary key, one column per
// declared index and the document itself. Index values are read from the
// document by field name when a record is written, so callers only deal in
// keys and JSON.
//
// Every call runs in its own transaction. The database is used through a
// single connection, which serializes operations and keeps same-key writes
// in call order.
package store
