package store

var schema = []string{
	`CREATE TABLE IF NOT EXISTS thread_bindings (
		user_id TEXT NOT NULL,
		workflow TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, workflow)
	)`,

	`CREATE TABLE IF NOT EXISTS memory_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		importance INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_records_user ON memory_records(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		thread_id TEXT NOT NULL DEFAULT '',
		run_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS data_sources (
		key TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		user_scoped BOOLEAN NOT NULL DEFAULT TRUE,
		config TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,

	`CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS workout_plans (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS nutrition_plans (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS recommendations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	// Tracker tables read through the data source catalog. Dates are stored
	// as ISO-8601 text so range predicates compare the same on both drivers.
	`CREATE TABLE IF NOT EXISTS workout_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		log_date TEXT NOT NULL,
		workout_name TEXT NOT NULL,
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		calories_burned INTEGER NOT NULL DEFAULT 0,
		rating INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS nutrition_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		log_date TEXT NOT NULL,
		meal_type TEXT NOT NULL,
		food_name TEXT NOT NULL,
		calories INTEGER NOT NULL DEFAULT 0,
		protein_g REAL NOT NULL DEFAULT 0,
		carbs_g REAL NOT NULL DEFAULT 0,
		fat_g REAL NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS progress_metrics (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		measured_at TEXT NOT NULL,
		weight_kg REAL,
		body_fat_pct REAL,
		notes TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS fitness_assessments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		age INTEGER,
		gender TEXT NOT NULL DEFAULT '',
		height_cm REAL,
		weight_kg REAL,
		fitness_goal TEXT NOT NULL DEFAULT '',
		experience_level TEXT NOT NULL DEFAULT '',
		equipment TEXT NOT NULL DEFAULT '',
		days_per_week INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS workout_schedules (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		scheduled_date TEXT NOT NULL,
		workout_name TEXT NOT NULL,
		is_completed BOOLEAN NOT NULL DEFAULT FALSE
	)`,
}
