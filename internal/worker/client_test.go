package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"form-webhook-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncClient(t *testing.T) {
	var marked []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/get-unprocessed":
			assert.Equal(t, "25", r.URL.Query().Get("limit"))
			json.NewEncoder(w).Encode(models.UnprocessedResponse{
				Success:          true,
				Count:            1,
				Records:          []models.Record{{ID: "sub_1", FormID: "7"}},
				TotalUnprocessed: 1,
			})
		case "/mark-processed":
			var req models.MarkProcessedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			marked = req.IDs
			json.NewEncoder(w).Encode(models.MarkProcessedResponse{Success: true, Marked: len(req.IDs), TotalProcessed: len(req.IDs)})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewSyncClient(srv.URL+"/", time.Second)
	recs, err := c.GetUnprocessed(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "sub_1", recs[0].ID)

	n, err := c.MarkProcessed(context.Background(), []string{"sub_1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"sub_1"}, marked)
}

func TestSyncClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"error":"bad"}`))
	}))
	defer srv.Close()

	_, err := NewSyncClient(srv.URL, time.Second).GetUnprocessed(context.Background(), 5)
	assert.ErrorContains(t, err, "API returned status 400")
}
