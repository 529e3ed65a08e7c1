package session

import (
	"fmt"
)

// idempotencyKey derives a stable key from the fields that define "the
// same job" for record_job's dedup check, per spec.md §3/§8:
// hash(session_id, branch_id, round_no, kind, ref). blocking and payload
// are deliberately excluded — two calls that agree on this 5-tuple are the
// same job even if a caller's payload varies, so the check can't fold
// payload into the key without breaking the idempotence invariant.
func idempotencyKey(sessionID, branchID string, roundNo int, kind, ref string) string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", sessionID, branchID, roundNo, kind, ref)
}
