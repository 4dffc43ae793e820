// Package database provides SQLite connectivity for Gray Logic HASS.
//
// The database holds the entity state history written by the relay and the
// audit trail of service calls. The live entity cache stays in memory
// inside the engine.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Schema migrations read from an fs.FS (normally migrations.FS)
//   - Health checks and file statistics for /api/v1/metrics
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a
// default, and each .up.sql should have a matching .down.sql.
package database
