package reconcile

// maxDerivedID bounds alarm identifiers well inside the positive int32 range.
const maxDerivedID = 2_000_000_000

// DerivedID maps a reminder's opaque store id into the platform's non-zero
// int32 alarm id space. DJB2 over the id bytes, folded to 32 bits, absolute
// value mod 2e9; a degenerate hash of zero maps to the sentinel 1 so the
// result is always positive. Deterministic, so the same reminder always owns
// the same alarm slot. Distinct reminder ids can collide; with a device
// holding tens of pending alarms in a 2e9 space that risk is accepted.
func DerivedID(reminderID string) int32 {
	var hash int32
	for i := 0; i < len(reminderID); i++ {
		hash = hash<<5 - hash + int32(reminderID[i])
	}

	v := int64(hash)
	if v < 0 {
		v = -v
	}
	id := int32(v % maxDerivedID)
	if id == 0 {
		return 1
	}
	return id
}
