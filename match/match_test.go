package match

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftmatch/authgate/account"
)

func TestEmptyMarshalsLists(t *testing.T) {
	m, err := Empty{}.Fetch(context.Background(), Request{})
	require.NoError(t, err)
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"brief_jobs":[],"followed":[],"contact":[]}`, string(data))
}

func TestHTTPProviderFetch(t *testing.T) {
	var gotPath, gotSize string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotSize = r.URL.Query().Get("size")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":"0","msg":"ok","data":{"brief_jobs":[{"id":1}],"followed":[]}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(map[string]string{"jp": srv.URL + "/"})
	m, err := p.Fetch(context.Background(), Request{Region: "jp", Role: account.RoleCompany, RoleID: 99})
	require.NoError(t, err)

	assert.Equal(t, "/companies/99/matchdata", gotPath)
	assert.Equal(t, "3", gotSize, "default prefetch")
	require.Len(t, m.BriefJobs, 1)
	assert.JSONEq(t, `{"id":1}`, string(m.BriefJobs[0]))
	assert.NotNil(t, m.Contact, "missing lists are normalised")
}

func TestHTTPProviderBarePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/teachers/7/matchdata", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("size"))
		_, _ = w.Write([]byte(`{"brief_jobs":[],"followed":[{"id":2}],"contact":[]}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(map[string]string{"jp": srv.URL})
	m, err := p.Fetch(context.Background(), Request{Region: "jp", Role: account.RoleTeacher, RoleID: 7, Prefetch: 5})
	require.NoError(t, err)
	assert.Len(t, m.Followed, 1)
}

func TestHTTPProviderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"brief_jobs":[],"followed":[],"contact":[]}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(map[string]string{"jp": srv.URL}, WithRetries(2, time.Millisecond))
	_, err := p.Fetch(context.Background(), Request{Region: "jp", Role: account.RoleTeacher, RoleID: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPProviderDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewHTTPProvider(map[string]string{"jp": srv.URL}, WithRetries(3, time.Millisecond))
	_, err := p.Fetch(context.Background(), Request{Region: "jp", Role: account.RoleTeacher, RoleID: 1})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPProviderRegionRouting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(map[string]string{"jp": srv.URL})
	_, err := p.Fetch(context.Background(), Request{Region: "us", Role: account.RoleTeacher, RoleID: 1})
	assert.ErrorIs(t, err, ErrNoHost)

	p = NewHTTPProvider(map[string]string{"jp": srv.URL}, WithFallbackRegion("jp"))
	_, err = p.Fetch(context.Background(), Request{Region: "us", Role: account.RoleTeacher, RoleID: 1})
	assert.NoError(t, err)
}

func TestHTTPProviderTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	p := NewHTTPProvider(map[string]string{"jp": srv.URL}, WithTimeout(20*time.Millisecond), WithRetries(0, time.Millisecond))
	_, err := p.Fetch(context.Background(), Request{Region: "jp", Role: account.RoleTeacher, RoleID: 1})
	assert.Error(t, err)
}
