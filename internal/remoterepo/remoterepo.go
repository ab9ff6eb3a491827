// Package remoterepo implements C5, the RemoteRepository: a pluggable
// HTTP transport for the cache's network tier. Adapted from
// internal/repo.Reader as plain GET/PUT requests (no conditional
// requests, no response caching), generalized from "fetch a package
// blob by relative path" to the
// fetchBuildInfo/putBuildInfo/fetchArtifact/putArtifact/putReport/
// findBaseline contract.
package remoterepo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/distr1/cachecore/internal/model"
	"github.com/distr1/cachecore/internal/xmlschema"
)

// ErrNotFound mirrors repo.ErrNotFound: an HTTP 404 is a normal "no
// record" outcome, not a transport failure.
type ErrNotFound struct {
	URL *url.URL
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%v: HTTP status 404", e.URL)
}

var httpClient = &http.Client{Transport: &http.Transport{
	MaxIdleConnsPerHost: 10,
}}

// Credentials is a username/password pair, resolved by priority:
// environment variables first, then a configured server id (§4.5,
// §6 "Environment variables").
type Credentials struct {
	Username string
	Password string
}

// ResolveCredentials reads CACHE_REMOTE_USER / CACHE_REMOTE_PASSWORD,
// falling back to cfg's configured values if either is unset.
func ResolveCredentials(cfgUsername, cfgPassword string) Credentials {
	c := Credentials{Username: cfgUsername, Password: cfgPassword}
	if u := os.Getenv("CACHE_REMOTE_USER"); u != "" {
		c.Username = u
	}
	if p := os.Getenv("CACHE_REMOTE_PASSWORD"); p != "" {
		c.Password = p
	}
	return c
}

// Repository is a remote cache endpoint reachable over HTTP(S).
type Repository struct {
	BaseURL     string
	ServerID    string
	Credentials Credentials
}

// New returns a Repository for baseURL (e.g. "https://cache.example.com/v1").
func New(baseURL, serverID string, creds Credentials) *Repository {
	return &Repository{BaseURL: strings.TrimRight(baseURL, "/"), ServerID: serverID, Credentials: creds}
}

func (r *Repository) path(parts ...string) string {
	return r.BaseURL + "/" + strings.Join(parts, "/")
}

func (r *Repository) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if r.Credentials.Username != "" {
		req.SetBasicAuth(r.Credentials.Username, r.Credentials.Password)
	}
	return req, nil
}

// do executes req and maps transport/4xx/5xx outcomes the way §4.5
// requires: "all network failures are logged and surface as
// Optional::None or false; they never abort the surrounding build."
func (r *Repository) do(req *http.Request) (*http.Response, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, &ErrNotFound{URL: req.URL}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("%s: HTTP status %s", req.URL, resp.Status)
	}
	return resp, nil
}

// FetchBuildInfo downloads and parses buildinfo.xml for (module,
// checksum). ok=false (with err=nil) means the record was not found; a
// non-nil err is any other transport or parse failure, which the caller
// logs and treats identically to "not found" (§4.5, §7 kind 3).
func (r *Repository) FetchBuildInfo(ctx context.Context, module model.Coordinate, checksum string) (model.Build, bool, error) {
	u := r.path(module.GroupID, module.ArtifactID, checksum, "buildinfo.xml")
	req, err := r.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Build{}, false, err
	}
	resp, err := r.do(req)
	if _, notFound := err.(*ErrNotFound); notFound {
		return model.Build{}, false, nil
	}
	if err != nil {
		return model.Build{}, false, err
	}
	defer resp.Body.Close()

	doc, err := xmlschema.UnmarshalBuildInfo(resp.Body)
	if err != nil {
		return model.Build{}, false, &model.CacheLookupError{Path: u, Err: err}
	}
	return fromXMLRemote(doc), true, nil
}

func fromXMLRemote(doc xmlschema.BuildInfo) model.Build {
	b := model.Build{
		CacheImplementationVersion: doc.CacheImplementationVersion,
		HashAlgorithm:              doc.HashAlgorithm,
		Final:                      doc.Final,
		SCM:                        model.SCMInfo{SourceBranch: doc.SCM.SourceBranch, Revision: doc.SCM.Revision},
		Fingerprint:                model.ProjectsInputInfo{Checksum: doc.ProjectsInputInfo.Checksum},
		Goals:                      append([]string(nil), doc.Goals...),
		Source:                     model.SourceRemote,
	}
	for _, it := range doc.ProjectsInputInfo.Items {
		b.Fingerprint.Items = append(b.Fingerprint.Items, model.DigestItem{
			Type: it.Type, Key: it.Key, Hash: it.Hash, FileChecksum: it.FileChecksum,
		})
	}
	if doc.Artifact != nil {
		b.Artifact = model.ArtifactDescriptor{
			GroupID: doc.Artifact.GroupID, ArtifactID: doc.Artifact.ArtifactID, Version: doc.Artifact.Version,
			Classifier: doc.Artifact.Classifier, Type: doc.Artifact.Type, FileName: doc.Artifact.FileName,
			FileHash: doc.Artifact.FileHash, FileSize: doc.Artifact.FileSize,
		}
	}
	return b
}

// PutBuildInfo uploads b's buildinfo.xml for (module, checksum).
func (r *Repository) PutBuildInfo(ctx context.Context, module model.Coordinate, checksum string, b model.Build) error {
	data, err := xmlschema.MarshalBuildInfo(toXMLRemote(b))
	if err != nil {
		return err
	}
	u := r.path(module.GroupID, module.ArtifactID, checksum, "buildinfo.xml")
	req, err := r.newRequest(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp, err := r.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func toXMLRemote(b model.Build) xmlschema.BuildInfo {
	doc := xmlschema.BuildInfo{
		CacheImplementationVersion: b.CacheImplementationVersion,
		HashAlgorithm:              b.HashAlgorithm,
		Final:                      b.Final,
		SCM:                        xmlschema.SCM{SourceBranch: b.SCM.SourceBranch, Revision: b.SCM.Revision},
		ProjectsInputInfo:          xmlschema.ProjectsInputInfo{Checksum: b.Fingerprint.Checksum},
		Goals:                      append([]string(nil), b.Goals...),
		Artifact: &xmlschema.Artifact{
			GroupID: b.Artifact.GroupID, ArtifactID: b.Artifact.ArtifactID, Version: b.Artifact.Version,
			Classifier: b.Artifact.Classifier, Type: b.Artifact.Type, FileName: b.Artifact.FileName,
			FileHash: b.Artifact.FileHash, FileSize: b.Artifact.FileSize,
		},
	}
	for _, it := range b.Fingerprint.Items {
		doc.ProjectsInputInfo.Items = append(doc.ProjectsInputInfo.Items, xmlschema.Item{
			Type: it.Type, Key: it.Key, Hash: it.Hash, FileChecksum: it.FileChecksum,
		})
	}
	return doc
}

// FetchArtifact downloads fileName for (module, checksum), optionally as
// a byte range (rangeStart < 0 disables ranging).
func (r *Repository) FetchArtifact(ctx context.Context, module model.Coordinate, checksum, fileName string, rangeStart int64) (io.ReadCloser, bool, error) {
	u := r.path(module.GroupID, module.ArtifactID, checksum, fileName)
	req, err := r.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	if rangeStart > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(rangeStart, 10)+"-")
	}
	resp, err := r.do(req)
	if _, notFound := err.(*ErrNotFound); notFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return resp.Body, true, nil
}

// PutArtifact uploads fileName's data for (module, checksum).
func (r *Repository) PutArtifact(ctx context.Context, module model.Coordinate, checksum, fileName string, data []byte) error {
	u := r.path(module.GroupID, module.ArtifactID, checksum, fileName)
	req, err := r.newRequest(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp, err := r.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// PutReport uploads a cache-report or diff XML document at relPath.
func (r *Repository) PutReport(ctx context.Context, relPath string, data []byte) error {
	u := r.path(relPath)
	req, err := r.newRequest(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	resp, err := r.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// FindBaseline fetches the remote's recorded baseline build for module,
// used by the Saver's diff-against-baseline step (§4.9 step 6).
func (r *Repository) FindBaseline(ctx context.Context, module model.Coordinate) (model.Build, bool, error) {
	u := r.path(module.GroupID, module.ArtifactID, "baseline", "buildinfo.xml")
	req, err := r.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Build{}, false, err
	}
	resp, err := r.do(req)
	if _, notFound := err.(*ErrNotFound); notFound {
		return model.Build{}, false, nil
	}
	if err != nil {
		return model.Build{}, false, err
	}
	defer resp.Body.Close()
	doc, err := xmlschema.UnmarshalBuildInfo(resp.Body)
	if err != nil {
		return model.Build{}, false, &model.CacheLookupError{Path: u, Err: err}
	}
	return fromXMLRemote(doc), true, nil
}
