package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/wardline/internal/domain"
	"github.com/ashureev/wardline/internal/notify"
	"github.com/ashureev/wardline/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *notify.Recorder) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	rec := &notify.Recorder{}
	p, err := pipeline.New(pipeline.Config{
		BaseURL:  srv.URL + "/api/v1",
		Tokens:   pipeline.StaticToken("tok"),
		Notifier: rec,
		Timeout:  5 * time.Second,
	})
	require.NoError(t, err)
	return NewClient(p), rec
}

func TestFetchMessages(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/messages", r.URL.Path)
		require.Equal(t, "icu & step-down", r.URL.Query().Get("departmentId"))
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[
			{"id": 2, "receiverDepartmentId": "icu & step-down", "text": "b", "createdAt": "2024-01-01T10:00:00Z"},
			null,
			{"id": "1", "receiverDepartmentId": "icu & step-down", "text": "a", "createdAt": "2024-01-01T09:00:00Z"}
		]`)
	}))

	msgs, err := c.FetchMessages(context.Background(), "icu & step-down")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, domain.ID("2"), msgs[0].ID)
	require.Nil(t, msgs[1])
	require.Equal(t, 9, msgs[2].CreatedAt.UTC().Hour())
}

func TestListDepartmentsEnvelope(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/departments", r.URL.Path)
		_, _ = io.WriteString(w, `{"data": [{"id": 1, "name": "ICU"}, {"id": "er", "name": "Emergency"}]}`)
	}))

	depts, err := c.ListDepartments(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.Department{{ID: "1", Name: "ICU"}, {ID: "er", Name: "Emergency"}}, depts)
}

func TestPostMessage(t *testing.T) {
	var got domain.Message
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))

	err := c.PostMessage(context.Background(), &domain.Message{ReceiverDepartmentID: "icu", Text: "hi", InstitutionID: "inst"})
	require.NoError(t, err)
	require.Equal(t, "hi", got.Text)
	require.Equal(t, domain.ID("icu"), got.ReceiverDepartmentID)
}

func TestServerErrorIsClassified(t *testing.T) {
	c, rec := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := c.ListDepartments(context.Background())
	require.Error(t, err)
	require.True(t, pipeline.IsKind(err, pipeline.KindServer))
	require.Equal(t, 1, rec.Count(notify.TopicRequest))
}
