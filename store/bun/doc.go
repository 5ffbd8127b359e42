// Package bunstore keeps the execution log and the trigger catalogue in
// PostgreSQL through Bun models. The tables match those of the postgres
// package, so the two backends can share a database.
//
// Open builds the *bun.DB from a DSN and returns a function that closes it:
//
//	s, closeDB := bunstore.Open("postgres://imagesigner@localhost/imagesigner?sslmode=disable")
//	defer closeDB()
//	if err := s.Migrate(ctx); err != nil {
//	    return err
//	}
//
// New wraps a *bun.DB the caller already owns. Close is then a no-op and
// the caller closes the handle.
package bunstore
