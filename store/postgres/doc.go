// Package postgres implements store.Store on PostgreSQL with pgx/v5.
//
// Jobs are claimed with SELECT ... FOR UPDATE SKIP LOCKED. Run locks,
// cron tick claims and the cluster lease are single conditional
// statements, so concurrent engines sharing a database agree on one
// winner. The schema ships as embedded SQL files applied by Migrate.
package postgres
