// Package postgres implements the store using pgx/v5 with raw SQL.
//
// Records and their execution summary are written in one transaction: the
// summary row is locked with SELECT FOR UPDATE, the sequence number is
// checked against it, and the unique (execution_id, seq) index rejects any
// duplicate that slips through. Tick claims rely on the primary key of
// imagesigner_trigger_ticks. Migrations are embedded SQL files.
package postgres
