package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE series (
				id UUID PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused', 'archived')),
				triggers JSONB,
				entry_rule JSONB,
				exit_rule JSONB,
				goal_rule JSONB,
				stats JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				activated_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_series_workspace ON series(workspace_id);
			CREATE INDEX idx_series_status ON series(status);
			CREATE INDEX idx_series_deleted_at ON series(deleted_at);

			CREATE TABLE series_blocks (
				id UUID PRIMARY KEY,
				series_id UUID NOT NULL REFERENCES series(id) ON DELETE CASCADE,
				type VARCHAR(50) NOT NULL,
				config JSONB,
				position_x INTEGER NOT NULL DEFAULT 0,
				position_y INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_series_blocks_series ON series_blocks(series_id);

			CREATE TABLE series_connections (
				id UUID PRIMARY KEY,
				series_id UUID NOT NULL REFERENCES series(id) ON DELETE CASCADE,
				from_block_id UUID NOT NULL,
				to_block_id UUID NOT NULL,
				condition VARCHAR(20) NOT NULL DEFAULT 'default',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_series_connections_series ON series_connections(series_id);
			CREATE INDEX idx_series_connections_from ON series_connections(series_id, from_block_id);

			CREATE TABLE series_progress (
				id UUID PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				series_id UUID NOT NULL REFERENCES series(id) ON DELETE CASCADE,
				visitor_id VARCHAR(255) NOT NULL,
				current_block_id UUID,
				status VARCHAR(50) NOT NULL,
				wait_until TIMESTAMP WITH TIME ZONE,
				wait_event_name VARCHAR(255),
				attempt_count INTEGER NOT NULL DEFAULT 0,
				last_error TEXT,
				entered_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				exited_at TIMESTAMP WITH TIME ZONE,
				goal_reached_at TIMESTAMP WITH TIME ZONE,
				failed_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			-- Uniqueness on (visitor, series) is resolved by the engine's
			-- reconciliation pass, not a constraint; these indexes serve
			-- the reconciliation lookup and the sweep scans.
			CREATE INDEX idx_progress_pair ON series_progress(visitor_id, series_id);
			CREATE INDEX idx_progress_series_status ON series_progress(series_id, status);
			CREATE INDEX idx_progress_visitor_status ON series_progress(visitor_id, status);

			CREATE TABLE series_history (
				id UUID PRIMARY KEY,
				progress_id UUID NOT NULL,
				series_id UUID NOT NULL,
				visitor_id VARCHAR(255) NOT NULL,
				block_id UUID NOT NULL,
				action VARCHAR(50) NOT NULL,
				result TEXT,
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_history_progress ON series_history(progress_id);
			CREATE INDEX idx_history_dedup ON series_history(visitor_id, series_id, block_id, action);

			CREATE TABLE series_block_telemetry (
				series_id UUID NOT NULL REFERENCES series(id) ON DELETE CASCADE,
				block_id UUID NOT NULL,
				entered BIGINT NOT NULL DEFAULT 0,
				completed BIGINT NOT NULL DEFAULT 0,
				skipped BIGINT NOT NULL DEFAULT 0,
				failed BIGINT NOT NULL DEFAULT 0,
				delivery_attempts BIGINT NOT NULL DEFAULT 0,
				delivery_failures BIGINT NOT NULL DEFAULT 0,
				branch_yes BIGINT NOT NULL DEFAULT 0,
				branch_no BIGINT NOT NULL DEFAULT 0,
				last_result TEXT,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (series_id, block_id)
			);

			CREATE TABLE series_visitors (
				id VARCHAR(255) PRIMARY KEY,
				workspace_id VARCHAR(255) NOT NULL,
				email VARCHAR(255),
				push_token VARCHAR(512),
				attributes JSONB,
				last_conversation_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
	}
}
