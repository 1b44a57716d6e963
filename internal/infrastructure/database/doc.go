// Package database provides the relational stores used by the push relay.
//
// Two backends are supported:
//   - SQLite (Open): single-node deployments. The schema comes from the
//     versioned SQL files in the migrations package, applied by Migrate.
//   - PostgreSQL (OpenPostgres): shared deployments, accessed through bun.
//     Repositories create their own tables idempotently at start-up.
//
// All queries use parameterised statements. The SQLite file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
