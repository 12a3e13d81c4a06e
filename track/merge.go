package track

import "sort"

// MergeLogs combines log event sequences into one deduplicated, time-ordered
// sequence. Sequences are concatenated in argument order, duplicates (by
// message text) keep their first occurrence, and the survivors are
// stable-sorted ascending by timestamp with missing timestamps first.
//
// First occurrence wins, so existing events take precedence over freshly
// polled ones and over a later authoritative dump for the same message. The
// function is pure and idempotent: MergeLogs(x) == MergeLogs(x, x).
func MergeLogs(existing []LogEvent, incoming ...[]LogEvent) []LogEvent {
	total := len(existing)
	for _, seq := range incoming {
		total += len(seq)
	}
	merged := make([]LogEvent, 0, total)
	seen := make(map[string]struct{}, total)

	keep := func(events []LogEvent) {
		for _, e := range events {
			if _, dup := seen[e.Message]; dup {
				continue
			}
			seen[e.Message] = struct{}{}
			merged = append(merged, e)
		}
	}
	keep(existing)
	for _, seq := range incoming {
		keep(seq)
	}

	// Stable, so ties keep their first-occurrence order.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].at().Before(merged[j].at())
	})
	return merged
}
