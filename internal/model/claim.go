package model

import "time"

// TaskClaim is a self-reported assertion that the off-platform tasks were
// completed at CompletedAt. It is not verified against any third party.
type TaskClaim struct {
	Tasks       map[string]bool
	CompletedAt time.Time
}

// TaskClaimFromMillis builds a claim from a unix-millisecond timestamp as sent
// by browser clients. A zero timestamp yields a zero CompletedAt.
func TaskClaimFromMillis(tasks map[string]bool, ms int64) TaskClaim {
	c := TaskClaim{Tasks: tasks}
	if ms > 0 {
		c.CompletedAt = time.UnixMilli(ms).UTC()
	}
	return c
}
