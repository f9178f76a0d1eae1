package store

import (
	"cmp"
	"slices"
)

// SortChronological orders messages by creation time, then insertion order.
func SortChronological(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
}

func sortThreads(threads []Thread) {
	slices.SortStableFunc(threads, func(a, b Thread) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
