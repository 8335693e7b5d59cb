package registrytest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouting(t *testing.T) {
	testCases := []struct {
		method string
		url    string
		expect int
	}{
		{
			method: http.MethodGet,
			url:    "/v2/user/repo/manifests/latest",
			expect: 404,
		},
		{
			method: http.MethodPut,
			url:    "/v2/user/repo/manifests/latest",
			expect: 201,
		},
		{
			method: http.MethodPost,
			url:    "/v2/user/repo/blobs/uploads/",
			expect: 202,
		},
		{
			method: http.MethodPatch,
			url:    "/v2/user/repo/blobs/uploads/no-such-session",
			expect: 404,
		},
		{
			method: http.MethodDelete,
			url:    "/v2/user/repo/blobs/uploads/no-such-session",
			expect: 404,
		},
		{
			method: http.MethodGet,
			url:    "/v2/user/repo/blobs/sha256:0000000000000000000000000000000000000000000000000000000000000000",
			expect: 404,
		},
		// deeper repository names are valid
		{
			method: http.MethodGet,
			url:    "/v2/somebody/user/repo/manifests/latest",
			expect: 404,
		},
		// no tag management beyond latest
		{
			method: http.MethodGet,
			url:    "/v2/user/repo/tags/list",
			expect: 404,
		},
	}

	handler := New().Handler()
	for _, tC := range testCases {
		t.Run(tC.method+strings.ReplaceAll(tC.url, "/", "-"), func(t *testing.T) {
			req := httptest.NewRequest(tC.method, tC.url, nil)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tC.expect, rr.Code)
		})
	}
}

func TestUploadSessionFlow(t *testing.T) {
	reg := New()
	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v2/user/repo/blobs/uploads/", "", nil)
	assert.Nil(t, err)
	resp.Body.Close()
	assert.Equal(t, 202, resp.StatusCode)
	loc := resp.Header.Get("Location")
	assert.True(t, strings.HasPrefix(loc, "/v2/user/repo/blobs/uploads/"))

	// digest of "hello"
	digest := "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	req, _ := http.NewRequest(http.MethodPut, srv.URL+loc+"?digest="+digest, strings.NewReader("hello"))
	resp, err = http.DefaultClient.Do(req)
	assert.Nil(t, err)
	resp.Body.Close()
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, 1, reg.BlobCount())

	// a wrong digest is rejected
	resp, err = http.Post(srv.URL+"/v2/user/repo/blobs/uploads/", "", nil)
	assert.Nil(t, err)
	resp.Body.Close()
	loc = resp.Header.Get("Location")
	req, _ = http.NewRequest(http.MethodPut, srv.URL+loc+"?digest="+digest, strings.NewReader("not hello"))
	resp, err = http.DefaultClient.Do(req)
	assert.Nil(t, err)
	resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}
