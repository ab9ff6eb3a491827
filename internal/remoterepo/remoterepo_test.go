package remoterepo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/distr1/cachecore/internal/model"
)

func TestFetchBuildInfoRoundTrip(t *testing.T) {
	module := model.Coordinate{GroupID: "g", ArtifactID: "a", Version: "1.0"}
	want := model.Build{
		HashAlgorithm: "SHA-256",
		Fingerprint:   model.ProjectsInputInfo{Checksum: "abc", Items: []model.DigestItem{{Type: "file", Key: "x", Hash: "h"}}},
		Artifact:      model.ArtifactDescriptor{GroupID: "g", ArtifactID: "a", Version: "1.0", Type: "jar", FileName: "a.jar"},
	}

	var putBody []byte
	mux := http.NewServeMux()
	mux.HandleFunc("/g/a/abc/buildinfo.xml", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPut:
			buf := make([]byte, req.ContentLength)
			req.Body.Read(buf)
			putBody = buf
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			if putBody == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(putBody)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	repo := New(srv.URL, "origin", Credentials{})

	if err := repo.PutBuildInfo(context.Background(), module, "abc", want); err != nil {
		t.Fatal(err)
	}
	got, ok, err := repo.FetchBuildInfo(context.Background(), module, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a record")
	}
	if got.Fingerprint.Checksum != want.Fingerprint.Checksum {
		t.Fatalf("got checksum %q, want %q", got.Fingerprint.Checksum, want.Fingerprint.Checksum)
	}
}

func TestFetchBuildInfoNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	repo := New(srv.URL, "origin", Credentials{})
	_, ok, err := repo.FetchBuildInfo(context.Background(), model.Coordinate{GroupID: "g", ArtifactID: "a"}, "abc")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected not found")
	}
}

func TestResolveCredentialsPrefersEnv(t *testing.T) {
	t.Setenv("CACHE_REMOTE_USER", "envuser")
	t.Setenv("CACHE_REMOTE_PASSWORD", "envpass")
	creds := ResolveCredentials("cfguser", "cfgpass")
	if creds.Username != "envuser" || creds.Password != "envpass" {
		t.Fatalf("expected env to win, got %+v", creds)
	}
}

func TestResolveCredentialsFallsBackToConfig(t *testing.T) {
	creds := ResolveCredentials("cfguser", "cfgpass")
	if creds.Username != "cfguser" || creds.Password != "cfgpass" {
		t.Fatalf("expected config fallback, got %+v", creds)
	}
}
