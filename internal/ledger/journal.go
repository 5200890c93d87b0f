package ledger

// Journal is an undo log over in-memory state. Every mutation records how to
// reverse itself; Rollback replays those records newest first down to a
// checkpoint obtained from OpIndex.
type Journal struct {
	ops []func()
}

// OpIndex returns the current checkpoint.
func (j *Journal) OpIndex() int {
	return len(j.ops)
}

// Record appends an undo operation.
func (j *Journal) Record(undo func()) {
	j.ops = append(j.ops, undo)
}

// Rollback restores the state as of restorePoint.
func (j *Journal) Rollback(restorePoint int) {
	if restorePoint < 0 {
		restorePoint = 0
	}
	for i := len(j.ops) - 1; i >= restorePoint; i-- {
		j.ops[i]()
		j.ops[i] = nil
	}
	if restorePoint < len(j.ops) {
		j.ops = j.ops[:restorePoint]
	}
}

// Commit discards the undo log, making all recorded mutations permanent.
func (j *Journal) Commit() {
	clear(j.ops)
	j.ops = j.ops[:0]
}

// Set assigns v to *dst and journals the previous value.
func Set[T any](j *Journal, dst *T, v T) {
	prev := *dst
	j.Record(func() { *dst = prev })
	*dst = v
}

// SetKey assigns m[k] = v and journals the previous entry.
func SetKey[K comparable, V any](j *Journal, m map[K]V, k K, v V) {
	prev, existed := m[k]
	j.Record(func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

// DeleteKey removes m[k] and journals the previous entry.
func DeleteKey[K comparable, V any](j *Journal, m map[K]V, k K) {
	prev, existed := m[k]
	if !existed {
		return
	}
	j.Record(func() { m[k] = prev })
	delete(m, k)
}
