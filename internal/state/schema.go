package state

// Timestamps are stored as unix nanoseconds so ordering and MAX() work on
// plain integers in both SQLite and Postgres.

const createScansTable = `
CREATE TABLE IF NOT EXISTS scans (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	timestamp_ns BIGINT NOT NULL,
	created_at_ns BIGINT NOT NULL
)`

const createUserScansTable = `
CREATE TABLE IF NOT EXISTS user_scans (
	user_id TEXT NOT NULL,
	scan_id TEXT NOT NULL,
	timestamp_ns BIGINT NOT NULL,
	category TEXT NOT NULL,
	points_earned INTEGER NOT NULL,
	payload TEXT NOT NULL, -- JSON ScanRecord
	PRIMARY KEY (user_id, scan_id)
)`

const createUserStatsTable = `
CREATE TABLE IF NOT EXISTS user_stats (
	user_id TEXT PRIMARY KEY,
	total_points INTEGER NOT NULL DEFAULT 0,
	total_scans INTEGER NOT NULL DEFAULT 0,
	last_scan_ns BIGINT,
	updated_at_ns BIGINT NOT NULL
)`

const createCategoryCountsTable = `
CREATE TABLE IF NOT EXISTS user_category_counts (
	user_id TEXT NOT NULL,
	category TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, category)
)`

const createLeaderboardTable = `
CREATE TABLE IF NOT EXISTS leaderboard (
	user_id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	total_points INTEGER NOT NULL DEFAULT 0,
	total_scans INTEGER NOT NULL DEFAULT 0,
	last_updated_ns BIGINT NOT NULL
)`

// pending_increments is the outbox between the history write and the
// aggregate update
const createPendingIncrementsTable = `
CREATE TABLE IF NOT EXISTS pending_increments (
	scan_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	username TEXT NOT NULL,
	points INTEGER NOT NULL,
	category TEXT NOT NULL,
	timestamp_ns BIGINT NOT NULL,
	created_at_ns BIGINT NOT NULL
)`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_user_scans_timestamp ON user_scans(user_id, timestamp_ns);
CREATE INDEX IF NOT EXISTS idx_pending_increments_created ON pending_increments(created_at_ns)`

const createLeaderboardIndex = `
CREATE INDEX IF NOT EXISTS idx_leaderboard_rank ON leaderboard(total_points DESC, last_updated_ns, user_id)`

// AllTables returns the table definitions in creation order
func AllTables() []string {
	return []string{
		createScansTable,
		createUserScansTable,
		createUserStatsTable,
		createCategoryCountsTable,
		createLeaderboardTable,
		createPendingIncrementsTable,
	}
}
