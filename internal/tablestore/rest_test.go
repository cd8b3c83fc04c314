package tablestore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sv=token", r.URL.RawQuery)
		switch r.URL.Path {
		case "/Tables('Present')":
			w.WriteHeader(http.StatusOK)
		case "/Tables('Absent')":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()
	s := NewRESTStore(srv.URL, "?sv=token")
	ctx := context.Background()

	ok, err := s.TableExists(ctx, "Present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TableExists(ctx, "Absent")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.TableExists(ctx, "Denied")
	assert.Error(t, err)
}

func TestQueryByTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/WADPerformanceCountersTable()", r.URL.Path)
		filter := r.URL.Query().Get("$filter")
		assert.Contains(t, filter, "Timestamp lt datetime'2026-08-14T12:00:00Z'")

		if r.URL.Query().Get("NextPartitionKey") == "" {
			w.Header().Set("x-ms-continuation-NextPartitionKey", "pk9")
			w.Header().Set("x-ms-continuation-NextRowKey", "rk3")
			fmt.Fprint(w, `{"value":[
				{"PartitionKey":"pk0","RowKey":"rk0","Timestamp":"2026-08-01T00:00:00Z"},
				{"PartitionKey":"pk0","RowKey":"rk1","Timestamp":"2026-08-02T00:00:00Z"}
			]}`)
			return
		}
		assert.Equal(t, "pk9", r.URL.Query().Get("NextPartitionKey"))
		assert.Equal(t, "rk3", r.URL.Query().Get("NextRowKey"))
		fmt.Fprint(w, `{"value":[{"PartitionKey":"pk9","RowKey":"rk3","Timestamp":"2026-08-03T00:00:00Z"}]}`)
	}))
	defer srv.Close()
	s := NewRESTStore(srv.URL, "sv=token")
	ctx := context.Background()
	cutoff := time.Date(2026, 8, 14, 12, 0, 0, 0, time.UTC)

	rows, next, err := s.QueryByTimestamp(ctx, "WADPerformanceCountersTable", cutoff, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "pk0", rows[0].PartitionKey)
	assert.Equal(t, "pk9|rk3", next)

	rows, next, err = s.QueryByTimestamp(ctx, "WADPerformanceCountersTable", cutoff, next)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "rk3", rows[0].RowKey)
	assert.Empty(t, next)
}

func TestBatchDeleteAllSucceed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/$batch", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("timeout"))
		body := readAll(t, r)
		assert.Contains(t, body, "DELETE")
		assert.Contains(t, body, "PartitionKey='pk0',RowKey='rk0'")
		assert.Contains(t, body, "If-Match: *")

		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, "--batchres\r\nHTTP/1.1 204 No Content\r\n\r\n--batchres--\r\n")
	}))
	defer srv.Close()
	s := NewRESTStore(srv.URL, "sv=token")

	rows := []Row{
		{PartitionKey: "pk0", RowKey: "rk0"},
		{PartitionKey: "pk0", RowKey: "rk1"},
		{PartitionKey: "pk0", RowKey: "rk2"},
	}
	results, err := s.BatchDelete(context.Background(), "T", rows,
		BatchOptions{ServerTimeout: 5 * time.Second})
	require.NoError(t, err)
	// A single success response covers the whole changeset.
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Succeeded())
	}
}

func TestBatchDeleteFailureCarriesCodeAndMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, "--batchres\r\nHTTP/1.1 404 Not Found\r\n"+
			"Content-Type: application/json\r\n\r\n"+
			`{"odata.error":{"code":"ResourceNotFound","message":{"lang":"en-US","value":"1:The specified resource does not exist."}}}`+
			"\r\n--batchres--\r\n")
	}))
	defer srv.Close()
	s := NewRESTStore(srv.URL, "sv=token")

	rows := []Row{{PartitionKey: "pk0", RowKey: "rk0"}, {PartitionKey: "pk0", RowKey: "rk1"}}
	results, err := s.BatchDelete(context.Background(), "T", rows, BatchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Succeeded())
	assert.Equal(t, CodeResourceNotFound, results[0].Code)
	idx, ok := results[0].FailedIndex()
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
}

func readAll(t *testing.T, r *http.Request) string {
	t.Helper()
	b, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	return string(b)
}
