// Package history keeps an SQLite audit trail of Home Assistant entity
// state changes.
//
// Rows are written by the relay's history sink and read by the API's
// /entities/{id}/history endpoint. The table is created by the embedded
// migrations; call database.DB.Migrate before using SQLiteRepository.
package history
