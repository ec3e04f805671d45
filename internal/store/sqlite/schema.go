package sqlite

// Statements issued against the items table. The schema version lives in
// PRAGMA user_version rather than a migrations table; the only migration is
// the additive new_column column at version 2.
const (
	createItemsTable = `CREATE TABLE IF NOT EXISTS items (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, description TEXT)`

	insertItem = `INSERT INTO items (name, description) VALUES (?, ?)`

	updateItem = `UPDATE items SET name = ?, description = ? WHERE id = ?`

	deleteItem = `DELETE FROM items WHERE id = ?`

	selectAllItems = `SELECT * FROM items`

	addExtraColumn = `ALTER TABLE items ADD COLUMN new_column TEXT`
)
