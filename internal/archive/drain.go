package archive

import (
	"fmt"
	"time"

	"hwsentinel/internal/forensic"
)

// Drain moves every occupied slot from the ring log into the archive,
// acknowledging each slot only after its incident row is committed. A
// record whose seal fails verification is left locked in place so the
// evidence is not destroyed; draining continues with the remaining
// slots and the failure is reported alongside the drained count.
func Drain(log *forensic.Log, dst Archiver) (int, error) {
	drained := 0
	var firstErr error

	now := time.Now().UnixNano()
	for slot := 0; slot < log.Slots(); slot++ {
		rec, ok := log.Read(slot)
		if !ok {
			continue
		}

		if !log.VerifyRecord(rec) {
			if firstErr == nil {
				firstErr = fmt.Errorf("slot %d: %w", slot, ErrSealMismatch)
			}
			continue
		}

		if _, err := dst.Insert(fromRecord(rec, now)); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("slot %d: %w", slot, err)
			}
			continue
		}

		log.Ack(slot)
		drained++
	}

	return drained, firstErr
}
