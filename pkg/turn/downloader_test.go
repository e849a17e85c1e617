package turn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/turn/internal"
)

// hubServer serves the multilingual model files, which carry no pinned hashes.
func hubServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !strings.HasPrefix(r.URL.Path, "/livekit/turn-detector/resolve/v0.3.0-intl/") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("payload for " + r.URL.Path))
	}))
}

func TestDownloadModel(t *testing.T) {
	is := is.New(t)

	var hits atomic.Int32
	server := hubServer(t, &hits)
	defer server.Close()

	dir := t.TempDir()
	d := NewDownloader(dir).WithHubURL(server.URL)

	is.NoErr(d.DownloadModel(context.Background(), "multilingual"))
	is.Equal(int(hits.Load()), len(internal.MultilingualModel.Files))

	for _, f := range internal.MultilingualModel.Files {
		_, err := os.Stat(internal.GetModelFilePath(dir, "v0.3.0-intl", f))
		is.NoErr(err)
	}
	is.True(d.ModelStatus()["multilingual"])
	is.True(!d.ModelStatus()["english"])

	// Files already on disk are skipped.
	is.NoErr(d.DownloadModel(context.Background(), "multilingual"))
	is.Equal(int(hits.Load()), len(internal.MultilingualModel.Files))
}

func TestDownloadModelFailures(t *testing.T) {
	is := is.New(t)

	var hits atomic.Int32
	server := hubServer(t, &hits)
	defer server.Close()

	d := NewDownloader(t.TempDir()).WithHubURL(server.URL)
	is.True(d.DownloadModel(context.Background(), "english") != nil) // 404
	is.True(d.DownloadModel(context.Background(), "nope") != nil)
}

func TestPrepareRunsOncePerDirectory(t *testing.T) {
	is := is.New(t)

	var hits atomic.Int32
	server := hubServer(t, &hits)
	defer server.Close()

	opts := PrepareOptions{ModelPath: t.TempDir(), Models: []string{"multilingual"}, HubURL: server.URL}
	is.NoErr(Prepare(context.Background(), opts))
	first := hits.Load()
	is.True(first > 0)

	is.NoErr(Prepare(context.Background(), opts))
	is.Equal(hits.Load(), first)
}

func TestPrepareRemembersFailure(t *testing.T) {
	is := is.New(t)

	var hits atomic.Int32
	server := hubServer(t, &hits)
	defer server.Close()

	opts := PrepareOptions{ModelPath: t.TempDir(), Models: []string{"english"}, HubURL: server.URL}
	err := Prepare(context.Background(), opts)
	is.True(err != nil)
	is.Equal(Prepare(context.Background(), opts), err)
}
