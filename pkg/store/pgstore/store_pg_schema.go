package pgstore

import (
	"context"
	"fmt"
)

// queries holds the statements with table names resolved for one prefix
type queries struct {
	schema string

	nextSeq       string
	insertSeq     string
	advanceSeq    string
	now           string
	insertNode    string
	deleteNode    string
	lifeSign      string
	setState      string
	setConfirmed  string
	deleteStale   string
	deleteStaleIn string
	anyNode       string
	anyNodeNotIn  string
	nodeState     string
	nodesInStates string
	nodes         string
	anyUnconfirm  string
	readProp      string
	insertProp    string
	updateProp    string
	readChanges   string
	truncateProps string
}

func newQueries(prefix string) queries {
	node := prefix + "cluster_node"
	value := prefix + "cluster_value"
	seq := prefix + "cluster_sequence"

	return queries{
		schema: fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		id BIGINT PRIMARY KEY,
		state TEXT NOT NULL,
		life_sign BIGINT NOT NULL,
		confirmed BIGINT
	);

	CREATE TABLE IF NOT EXISTS %[2]s (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		old_value TEXT,
		seq_number BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS %[3]s (
		name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_%[2]s_seq ON %[2]s(seq_number);
	CREATE INDEX IF NOT EXISTS idx_%[1]s_state ON %[1]s(state);
	`, node, value, seq),

		nextSeq:    fmt.Sprintf(`SELECT value FROM %s WHERE name = $1 FOR UPDATE`, seq),
		insertSeq:  fmt.Sprintf(`INSERT INTO %s (name, value) VALUES ($1, 0) ON CONFLICT (name) DO NOTHING`, seq),
		advanceSeq: fmt.Sprintf(`UPDATE %s SET value = $1 WHERE name = $2`, seq),
		now:        `SELECT (EXTRACT(EPOCH FROM clock_timestamp()) * 1000)::BIGINT`,

		insertNode:    fmt.Sprintf(`INSERT INTO %s (id, state, life_sign, confirmed) VALUES ($1, $2, $3, $4)`, node),
		deleteNode:    fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, node),
		lifeSign:      fmt.Sprintf(`UPDATE %s SET life_sign = $1 WHERE id = $2`, node),
		setState:      fmt.Sprintf(`UPDATE %s SET state = $1 WHERE id = $2`, node),
		setConfirmed:  fmt.Sprintf(`UPDATE %s SET confirmed = $1 WHERE id = $2`, node),
		deleteStale:   fmt.Sprintf(`DELETE FROM %s WHERE life_sign < $1`, node),
		deleteStaleIn: fmt.Sprintf(`DELETE FROM %s WHERE state = $1 AND life_sign < $2`, node),
		anyNode:       fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s)`, node),
		anyNodeNotIn:  fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE state != $1)`, node),
		nodeState:     fmt.Sprintf(`SELECT state FROM %s WHERE id = $1`, node),
		nodesInStates: fmt.Sprintf(`SELECT id FROM %s WHERE state = ANY($1) ORDER BY id`, node),
		nodes:         fmt.Sprintf(`SELECT id, state, life_sign, confirmed FROM %s ORDER BY id`, node),
		anyUnconfirm: fmt.Sprintf(
			`SELECT EXISTS (SELECT 1 FROM %s WHERE state = $1 AND (confirmed IS NULL OR confirmed < $2))`, node),

		readProp:      fmt.Sprintf(`SELECT name, value, old_value, seq_number FROM %s WHERE name = $1`, value),
		insertProp:    fmt.Sprintf(`INSERT INTO %s (name, value, old_value, seq_number) VALUES ($1, $2, $3, $4)`, value),
		updateProp:    fmt.Sprintf(`UPDATE %s SET value = $1, old_value = $2, seq_number = $3 WHERE name = $4`, value),
		readChanges:   fmt.Sprintf(`SELECT name, value, old_value, seq_number FROM %s WHERE seq_number > $1 ORDER BY seq_number`, value),
		truncateProps: fmt.Sprintf(`DELETE FROM %s`, value),
	}
}

// migrate creates the necessary database tables
func (s *PGStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, s.q.schema)
	return err
}
