// ABOUTME: Ordered, deduplicated message list operations for a single thread
// ABOUTME: Pure functions: inputs are never mutated, outputs are sorted newest first

package message

import "sort"

// InsertOrReplace returns list with incoming added. If a message with the
// same id is already present the list is returned unchanged (re-sorted
// copy); fields of the duplicate are not applied.
func InsertOrReplace(list []Message, incoming Message) []Message {
	out := make([]Message, 0, len(list)+1)
	out = append(out, list...)
	if !Contains(list, incoming.ID) {
		out = append(out, incoming)
	}
	SortDescending(out)
	return out
}

// Contains reports whether a message with the given id is in list.
func Contains(list []Message, id string) bool {
	return IndexOf(list, id) >= 0
}

// IndexOf returns the position of id in list, or -1.
func IndexOf(list []Message, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// SortDescending orders list by CreatedAt, newest first. The sort is
// stable so equal timestamps keep their insertion order.
func SortDescending(list []Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// IsSortedDescending reports whether no adjacent pair is out of order.
func IsSortedDescending(list []Message) bool {
	for i := 1; i < len(list); i++ {
		if list[i-1].CreatedAt.Before(list[i].CreatedAt) {
			return false
		}
	}
	return true
}
