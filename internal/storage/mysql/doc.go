// Package mysql provides the MySQL-backed stores of OpenMCP-Bank: the
// read-only banking data service, the ai_operations audit trail and the
// login account catalogue. Schema changes ship as embedded migrations.
package mysql
