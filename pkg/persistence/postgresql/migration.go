package postgresql

// migrations returns the versioned schema for the automation engine.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				owner TEXT NOT NULL,
				status TEXT NOT NULL,
				trigger JSONB NOT NULL DEFAULT '{}',
				steps JSONB NOT NULL DEFAULT '[]',
				active_enrollments INTEGER NOT NULL DEFAULT 0,
				completed_enrollments INTEGER NOT NULL DEFAULT 0,
				emails_sent INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS contacts (
				id TEXT PRIMARY KEY,
				owner TEXT NOT NULL,
				email TEXT NOT NULL,
				first_name TEXT NOT NULL DEFAULT '',
				last_name TEXT NOT NULL DEFAULT '',
				tags JSONB NOT NULL DEFAULT '[]',
				fields JSONB NOT NULL DEFAULT '{}',
				unsubscribed BOOLEAN NOT NULL DEFAULT FALSE,
				last_activity_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_contacts_owner ON contacts(owner);

			CREATE TABLE IF NOT EXISTS enrollments (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				contact_id TEXT NOT NULL,
				current_step_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				journey JSONB NOT NULL DEFAULT '[]',
				reason TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_enrollments_workflow_contact
				ON enrollments(workflow_id, contact_id);
			CREATE INDEX IF NOT EXISTS idx_enrollments_workflow_status
				ON enrollments(workflow_id, status);

			CREATE TABLE IF NOT EXISTS tasks (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				enrollment_id TEXT NOT NULL,
				step_id TEXT NOT NULL,
				status TEXT NOT NULL,
				scheduled_for TIMESTAMP WITH TIME ZONE NOT NULL,
				attempts INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				last_error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_tasks_status_scheduled_for
				ON tasks(status, scheduled_for);
			CREATE INDEX IF NOT EXISTS idx_tasks_enrollment
				ON tasks(enrollment_id);
		`,
	}
}
