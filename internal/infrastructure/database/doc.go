// Package database provides the SQLite store for incidentdesk.
//
// It manages:
//   - Opening the database file with foreign keys enforced and optional WAL
//   - Embedded, versioned schema migrations (up and down)
//   - A transaction helper and the shared timestamp layout for repositories
//   - Typed detection of UNIQUE and FOREIGN KEY constraint failures
//
// All repositories use parameterised statements. The database file is
// chmod 0600 after creation.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
