package core

import (
	"fmt"
	"strings"

	"SatLedger/internal/observability"
)

// SequenceValidator validates source sequences per partition.
// Not thread-safe; only the deterministic core goroutine touches it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         metrics,
	}
}

// ValidateSequence accepts exactly the next expected sequence of a partition
// and advances it. Stale sequences pass only for known duplicates.
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partitionKind(partition)).Inc()
		}
		return fmt.Errorf("out-of-order event: partition=%s, expected=%d, got=%d",
			partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	if sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partitionKind(partition)).Inc()
	}
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// Rewind makes sourceSequence the next expected one again, for a command that
// passed validation but could not be applied.
func (sv *SequenceValidator) Rewind(partition string, sourceSequence int64) {
	if sv.expectedNextSeq[partition] == sourceSequence+1 {
		sv.expectedNextSeq[partition] = sourceSequence
	}
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// partitionKind strips the identity from a partition for metric labels.
func partitionKind(partition string) string {
	if i := strings.IndexByte(partition, ':'); i >= 0 {
		return partition[:i]
	}
	return partition
}
