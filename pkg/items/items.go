package items

// Items is the ordered sequence of Records that flows between nodes. Nodes
// must not mutate an Items they receive; Clone gives every node a cheap way
// to honor that without a deep-copy-everywhere discipline bug creeping in.
type Items []Record

// Clone returns an Items whose top-level slice and Record maps are
// independent of the receiver (deep copy of every Record).
func (it Items) Clone() Items {
	out := make(Items, len(it))
	for i, r := range it {
		out[i] = r.DeepCopy()
	}
	return out
}

// Logs is an ordered sequence of human-readable log lines produced by a
// node run.
type Logs []string

// Metrics is a record of counters/timings produced by a node run.
type Metrics map[string]Value

// MergeMetrics shallow-merges b into a: when both sides hold a numeric
// value for the same key the numbers are summed, otherwise b's value wins.
// Per spec.md §3 ("NodeResult") and §4.4 ("Metrics merging").
func MergeMetrics(a, b Metrics) Metrics {
	out := make(Metrics, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if existing, ok := out[k]; ok {
			ef, eok := existing.AsFloat()
			nf, nok := v.AsFloat()
			if eok && nok {
				if existing.Kind() == KindInt && v.Kind() == KindInt {
					ei, _ := existing.AsInt()
					ni, _ := v.AsInt()
					out[k] = Int(ei + ni)
				} else {
					out[k] = Float(ef + nf)
				}
				continue
			}
		}
		out[k] = v
	}
	return out
}

// AppendLogs concatenates a and b into a fresh slice.
func AppendLogs(a, b Logs) Logs {
	out := make(Logs, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}
