package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"shotbook-server/modules/common/config"
	"shotbook-server/modules/common/model"
)

type upload struct {
	path        string
	contentType string
	auth        string
	body        []byte
}

func fakeSupabase(t *testing.T, status int) (*httptest.Server, *[]upload) {
	var mu sync.Mutex
	uploads := []upload{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		uploads = append(uploads, upload{
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			auth:        r.Header.Get("Authorization"),
			body:        body,
		})
		mu.Unlock()
		w.WriteHeader(status)
		w.Write([]byte(`{"Key":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &uploads
}

func TestUploadKeyframe(t *testing.T) {
	srv, uploads := fakeSupabase(t, http.StatusOK)
	cfg := &config.Config{SupabaseURL: srv.URL, SupabaseServiceKey: "svc", SupabaseBucket: "shotbook"}

	var quality float32
	client := NewClient(cfg, func(data []byte, q float32) ([]byte, error) {
		quality = q
		return []byte("webp:" + string(data)), nil
	})

	url, err := client.UploadKeyframe(context.Background(), "p 1", "1_2", []byte("png"))
	require.NoError(t, err)
	require.Equal(t, float32(90), quality)
	require.True(t, strings.HasPrefix(url, srv.URL+"/storage/v1/object/public/shotbook/keyframes/p-1/1_2_"), url)
	require.True(t, strings.HasSuffix(url, ".webp"))

	require.Len(t, *uploads, 1)
	got := (*uploads)[0]
	require.True(t, strings.HasPrefix(got.path, "/storage/v1/object/shotbook/keyframes/p-1/1_2_"))
	require.Equal(t, "image/webp", got.contentType)
	require.Equal(t, "Bearer svc", got.auth)
	require.Equal(t, "webp:png", string(got.body))
}

func TestSaveFull(t *testing.T) {
	srv, uploads := fakeSupabase(t, http.StatusCreated)
	cfg := &config.Config{SupabaseURL: srv.URL, SupabaseServiceKey: "svc", SupabaseBucket: "shotbook", SupabaseStorageBaseURL: "https://cdn.example/shotbook"}
	client := NewClient(cfg, nil)

	state := &model.ProjectState{ProjectID: "p1", Shots: []model.Shot{{ID: "1_1", KeyframeImage: []byte{7}}}}
	url, err := client.SaveFull(context.Background(), state)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "https://cdn.example/shotbook/exports/p1_"), url)

	var exported model.ProjectState
	require.NoError(t, json.Unmarshal((*uploads)[0].body, &exported))
	require.Equal(t, []byte{7}, exported.Shots[0].KeyframeImage)
	require.Equal(t, "application/json", (*uploads)[0].contentType)
}

func TestUploadFailure(t *testing.T) {
	srv, _ := fakeSupabase(t, http.StatusForbidden)
	cfg := &config.Config{SupabaseURL: srv.URL, SupabaseServiceKey: "svc", SupabaseBucket: "shotbook"}
	client := NewClient(cfg, func(data []byte, q float32) ([]byte, error) { return data, nil })

	_, err := client.UploadKeyframe(context.Background(), "p", "1_1", []byte("png"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}
