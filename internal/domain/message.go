package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ID is an identifier that may arrive on the wire as a JSON string or a
// JSON number. It is always re-encoded as a string.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the identifier as a plain string.
func (id ID) String() string { return string(id) }

// Timestamp is a message creation time. Unparseable or missing values
// decode to the zero time instead of failing the whole message.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// UnmarshalJSON accepts RFC 3339 strings, zone-less ISO strings (read in
// local time) and Unix milliseconds.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	t.Time = time.Time{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '"' {
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err == nil {
			t.Time = time.UnixMilli(ms)
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return nil
}

// MarshalJSON writes RFC 3339 with milliseconds, or null for the zero time.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
}

// At wraps a time.Time.
func At(t time.Time) Timestamp { return Timestamp{Time: t} }

// Message is a department chat message as exchanged with the backend and
// over the chat socket. Messages built on the client carry no ID until
// the server assigns one.
type Message struct {
	ID                   ID        `json:"id,omitempty"`
	SenderID             ID        `json:"senderId,omitempty"`
	SenderDepartmentID   ID        `json:"senderDepartmentId,omitempty"`
	AdminID              ID        `json:"adminId,omitempty"`
	ReceiverDepartmentID ID        `json:"receiverDepartmentId"`
	Text                 string    `json:"text"`
	InstitutionID        ID        `json:"institutionId"`
	CreatedAt            Timestamp `json:"createdAt"`
}

// MessageGroup is one calendar day of messages, ready for display.
type MessageGroup struct {
	DateKey  string     `json:"dateKey"`
	Messages []*Message `json:"messages"`
}

// Department is a chat scope the user can select.
type Department struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}
