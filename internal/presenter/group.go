// Package presenter turns the flat message list of the active department
// into date-bucketed groups for display.
package presenter

import (
	"sort"
	"time"

	"github.com/ashureev/wardline/internal/domain"
)

// DateKeyLayout is the bucket key format.
const DateKeyLayout = "2006-01-02"

// Group buckets messages by local calendar day. See GroupIn.
func Group(messages []*domain.Message) []domain.MessageGroup {
	return GroupIn(messages, time.Local)
}

// GroupIn buckets messages by calendar day in loc. Nil entries are
// skipped and keys are ascending. Messages without a creation time land in
// the zero-time bucket, which sorts first.
//
// The list is newest first, as the backend returns it. Each bucket is
// filled in arrival order (oldest first) and reversed for rendering, so a
// bucket lists its messages in the same relative order as the input.
func GroupIn(messages []*domain.Message, loc *time.Location) []domain.MessageGroup {
	if loc == nil {
		loc = time.Local
	}

	buckets := make(map[string][]*domain.Message)
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m == nil {
			continue
		}
		key := m.CreatedAt.In(loc).Format(DateKeyLayout)
		buckets[key] = append(buckets[key], m)
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([]domain.MessageGroup, 0, len(keys))
	for _, k := range keys {
		arrived := buckets[k]
		rendered := make([]*domain.Message, len(arrived))
		for i, m := range arrived {
			rendered[len(arrived)-1-i] = m
		}
		groups = append(groups, domain.MessageGroup{DateKey: k, Messages: rendered})
	}
	return groups
}
