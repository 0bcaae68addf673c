package presenter

import (
	"testing"
	"time"

	"github.com/ashureev/wardline/internal/domain"
	"github.com/stretchr/testify/require"
)

func msg(id string, ts time.Time) *domain.Message {
	return &domain.Message{ID: domain.ID(id), ReceiverDepartmentID: "icu", CreatedAt: domain.At(ts)}
}

func ids(g domain.MessageGroup) []string {
	out := make([]string, 0, len(g.Messages))
	for _, m := range g.Messages {
		out = append(out, string(m.ID))
	}
	return out
}

func TestGroupEmpty(t *testing.T) {
	require.Empty(t, GroupIn(nil, time.UTC))
	require.Empty(t, GroupIn([]*domain.Message{}, time.UTC))
	require.NotNil(t, GroupIn(nil, time.UTC))
}

func TestGroupSkipsNil(t *testing.T) {
	m := msg("1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	groups := GroupIn([]*domain.Message{nil, m}, time.UTC)
	require.Len(t, groups, 1)
	require.Equal(t, []string{"1"}, ids(groups[0]))
}

func TestGroupBucketsByDay(t *testing.T) {
	in := []*domain.Message{
		msg("1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
		msg("2", time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		msg("3", time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)),
	}
	groups := GroupIn(in, time.UTC)

	require.Len(t, groups, 2)
	require.Equal(t, "2024-01-01", groups[0].DateKey)
	require.Equal(t, []string{"1", "2"}, ids(groups[0]))
	require.Equal(t, "2024-01-02", groups[1].DateKey)
	require.Equal(t, []string{"3"}, ids(groups[1]))
}

func TestGroupUsesLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	m := msg("1", time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC))

	require.Equal(t, "2024-01-01", GroupIn([]*domain.Message{m}, time.UTC)[0].DateKey)
	require.Equal(t, "2024-01-02", GroupIn([]*domain.Message{m}, tokyo)[0].DateKey)
}

func TestGroupZeroTimeSortsFirst(t *testing.T) {
	in := []*domain.Message{
		msg("1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
		{ID: "2"},
	}
	groups := GroupIn(in, time.UTC)
	require.Len(t, groups, 2)
	require.Equal(t, []string{"2"}, ids(groups[0]))
}

func TestGroupIsDeterministic(t *testing.T) {
	in := []*domain.Message{
		msg("a", time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)),
		msg("b", time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
		msg("c", time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)),
		msg("d", time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)),
	}
	first := GroupIn(in, time.UTC)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, GroupIn(in, time.UTC))
	}
	require.Equal(t, "a", string(in[0].ID), "input must not be reordered")
}
