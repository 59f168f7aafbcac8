package postgres

import "fmt"

// claimSpec describes a claimable work table. Claimed rows move to
// processing with claimed_at stamped; rows locked by another claimer are
// skipped rather than waited on.
type claimSpec struct {
	table     string
	join      string // optional join on q
	due       string // predicate selecting claimable rows of q
	order     string
	returning string // columns of t
}

// claimQuery takes the batch limit as $1.
func (c claimSpec) claimQuery() string {
	return fmt.Sprintf(`
		WITH due AS (
			SELECT q.id
			FROM %[1]s q %[2]s
			WHERE %[3]s
			ORDER BY %[4]s
			LIMIT $1
			FOR UPDATE OF q SKIP LOCKED
		)
		UPDATE %[1]s t
		SET status = 'processing', claimed_at = NOW(), updated_at = NOW()
		FROM due
		WHERE t.id = due.id
		RETURNING %[5]s`, c.table, c.join, c.due, c.order, c.returning)
}

// recoverQuery takes the stale age in seconds as $1.
func (c claimSpec) recoverQuery() string {
	return fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending', claimed_at = NULL, updated_at = NOW()
		WHERE status = 'processing'
		  AND claimed_at < NOW() - ($1::float8 * INTERVAL '1 second')`, c.table)
}
