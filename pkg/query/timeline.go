package query

import (
	"slices"

	"github.com/ssargent/userdots/pkg/codec"
)

// MergeTimeline returns the events of every record as one ascending sequence
func MergeTimeline(records []*codec.UserRecord) []int64 {
	n := 0
	for _, rec := range records {
		n += len(rec.Events)
	}

	merged := make([]int64, 0, n)
	for _, rec := range records {
		merged = append(merged, rec.Events...)
	}
	slices.Sort(merged)
	return merged
}
