// Package sqlite stores identity documents as JSON rows in SQLite.
//
// Every document lives in one table keyed by its full path, with the parent
// collection denormalized for queries. Transactions begin IMMEDIATE so
// concurrent writers serialize on the database lock.
package sqlite
