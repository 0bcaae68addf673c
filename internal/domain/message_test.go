package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageDecodesLooseWireShapes(t *testing.T) {
	raw := `{"id":42,"receiverDepartmentId":7,"text":"hi","institutionId":"inst-1","createdAt":"2024-01-01T10:00:00Z"}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	require.Equal(t, ID("42"), msg.ID)
	require.Equal(t, ID("7"), msg.ReceiverDepartmentID)
	require.Equal(t, "hi", msg.Text)
	require.True(t, msg.CreatedAt.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)))
	require.Empty(t, msg.SenderID)
}

func TestTimestampToleratesGarbage(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"receiverDepartmentId":"a","createdAt":"not a date"}`), &msg))
	require.True(t, msg.CreatedAt.IsZero())

	require.NoError(t, json.Unmarshal([]byte(`{"receiverDepartmentId":"a","createdAt":1704103200000}`), &msg))
	require.Equal(t, int64(1704103200000), msg.CreatedAt.UnixMilli())
}

func TestTimestampZoneLessIsLocal(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2024-01-01T10:00"`), &ts))
	require.Equal(t, time.Local, ts.Location())
	require.Equal(t, 10, ts.Hour())
}

func TestMessageOmitsUnsetID(t *testing.T) {
	data, err := json.Marshal(Message{ReceiverDepartmentID: "icu", Text: "x", InstitutionID: "i"})
	require.NoError(t, err)
	require.NotContains(t, string(data), `"id"`)
	require.Contains(t, string(data), `"createdAt":null`)
}

func TestSocketStateString(t *testing.T) {
	require.Equal(t, "open", SocketOpen.String())
	require.Equal(t, "unknown", SocketState(99).String())
}
