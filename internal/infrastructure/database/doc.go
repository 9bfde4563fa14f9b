// Package database provides the bridge's SQLite storage.
//
// The database keeps a rolling history of field changes and a log of every
// device command. It is optional: with database.enabled false the bridge
// runs without it.
//
// # Usage
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations live in the top-level migrations package, which registers its
// embedded files in MigrationsFS. Files are named
// YYYYMMDD_HHMMSS_description.up.sql with an optional matching .down.sql.
//
// # Connection Pooling
//
// SQLite has a single writer, so the pool holds exactly one connection.
package database
