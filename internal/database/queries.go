package database

const (
	selectAccountsQuery = `
		SELECT account_id, source_user_id, source_token, max_exception_count, created_at, updated_at
		FROM accounts
		ORDER BY account_id
	`

	selectAccountByIDQuery = `
		SELECT account_id, source_user_id, source_token, max_exception_count, created_at, updated_at
		FROM accounts
		WHERE account_id = ?
	`

	upsertAccountQuery = `
		INSERT INTO accounts (account_id, source_user_id, source_token, max_exception_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			source_user_id = excluded.source_user_id,
			source_token = excluded.source_token,
			max_exception_count = excluded.max_exception_count,
			updated_at = excluded.updated_at
	`

	deleteAccountQuery = `DELETE FROM accounts WHERE account_id = ?`

	selectAllowListQuery = `
		SELECT id, account_id, contact_id, display_name
		FROM allow_list
		WHERE account_id = ?
		ORDER BY contact_id
	`

	upsertAllowListQuery = `
		INSERT INTO allow_list (account_id, contact_id, display_name)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id, contact_id) DO UPDATE SET
			display_name = excluded.display_name
		RETURNING id
	`

	deleteAllowListEntryQuery = `DELETE FROM allow_list WHERE account_id = ? AND contact_id = ?`

	selectCursorQuery = `
		SELECT account_id, server, poll_key, position, updated_at
		FROM cursors
		WHERE account_id = ?
	`

	upsertCursorQuery = `
		INSERT INTO cursors (account_id, server, poll_key, position, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			server = excluded.server,
			poll_key = excluded.poll_key,
			position = excluded.position,
			updated_at = excluded.updated_at
	`

	deleteCursorQuery = `DELETE FROM cursors WHERE account_id = ?`
)
