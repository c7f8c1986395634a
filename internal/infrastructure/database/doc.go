// Package database provides SQLite connectivity for the Gray Logic publisher.
//
// The publisher keeps a small local store: the dead-letter journal of
// messages that could not be delivered. This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Additive schema migrations read from an fs.FS
//   - Single-writer connection pooling and lifecycle management
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration Strategy:
//
// Migrations are additive-only: new columns must be NULLABLE or have
// DEFAULT values, and nothing is dropped or renamed. Files are named
// YYYYMMDD_HHMMSS_description.up.sql.
package database
