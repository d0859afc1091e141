package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-pkgz/routegroup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commentguard/comment-guard/app/storage"
	"github.com/commentguard/comment-guard/app/storage/engine"
	"github.com/commentguard/comment-guard/lib/validator"
)

// testServer wires a server with real sqlite-backed stores and a real detector.
func testServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()
	ctx := context.Background()

	db, err := engine.NewSqlite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	blacklists, err := storage.NewBlacklists(ctx, db)
	require.NoError(t, err)
	bannedIPs, err := storage.NewBannedIPs(ctx, db)
	require.NoError(t, err)
	comments, err := storage.NewComments(ctx, db)
	require.NoError(t, err)

	detector, err := validator.New(validator.Config{}, blacklists, bannedIPs, comments)
	require.NoError(t, err)

	srv := NewServer(Config{
		Version:    "test",
		Detector:   detector,
		Blacklists: blacklists,
		BannedIPs:  bannedIPs,
		Comments:   comments,
	})
	router := routegroup.New(http.NewServeMux())
	srv.routes(router)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data)) //nolint:gosec // test server url
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var res map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	return res
}

func TestServer_CheckClean(t *testing.T) {
	ts, _ := testServer(t)

	resp := postJSON(t, ts.URL+"/check", map[string]any{
		"author_name": "ktulhu",
		"body":        "nice post, thanks for sharing",
		"ip_address":  "10.0.0.1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody(t, resp)
	assert.Equal(t, true, res["accepted"])
	assert.Equal(t, true, res["public"])
	assert.NotEmpty(t, res["checks"])
	assert.Positive(t, res["id"])
}

func TestServer_CheckHidden(t *testing.T) {
	ts, _ := testServer(t)

	// three links push the link-limit score to 0.3, above the public threshold
	resp := postJSON(t, ts.URL+"/check", map[string]any{
		"author_name": "spammer",
		"body":        "see http://a.com http://b.com http://c.com",
		"ip_address":  "10.0.0.2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody(t, resp)
	assert.Equal(t, true, res["accepted"])
	assert.Equal(t, false, res["public"])
}

func TestServer_CheckBannedIP(t *testing.T) {
	ts, srv := testServer(t)

	_, err := srv.BannedIPs.Add(context.Background(), "1.2.3.4")
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/check", map[string]any{
		"body":       "whatever",
		"ip_address": "1.2.3.4",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody(t, resp)
	assert.Equal(t, false, res["accepted"])
	assert.Equal(t, false, res["public"])
}

func TestServer_CheckBadRequest(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Post(ts.URL+"/check", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Validators(t *testing.T) {
	ts, _ := testServer(t)

	resp, err := http.Get(ts.URL + "/validators")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody(t, resp)
	names, ok := res["validators"].([]any)
	require.True(t, ok)
	assert.Len(t, names, len(validator.DefaultValidators))
	assert.Equal(t, "email", names[0])
}

func TestServer_BlacklistsCRUD(t *testing.T) {
	ts, _ := testServer(t)

	resp := postJSON(t, ts.URL+"/blacklists/", map[string]any{"name": "spam", "weight": 0.5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/blacklists/spam/phrases", map[string]any{"phrases": []string{"viagra", "casino"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/blacklists/")
	require.NoError(t, err)
	res := decodeBody(t, resp)
	lists, ok := res["blacklists"].([]any)
	require.True(t, ok)
	require.Len(t, lists, 1)
	list := lists[0].(map[string]any)
	assert.Equal(t, "spam", list["name"])
	assert.InDelta(t, 0.5, list["weight"], 0.0001)

	req, err := http.NewRequest(http.MethodPut, ts.URL+"/blacklists/spam",
		bytes.NewReader([]byte(`{"weight": 2.0}`)))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/blacklists/spam/phrases",
		bytes.NewReader([]byte(`{"phrase": "casino"}`)))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/blacklists/spam", http.NoBody)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/blacklists/spam/phrases", map[string]any{"phrases": []string{"x"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "list is gone")
	resp.Body.Close()
}

func TestServer_BannedIPs(t *testing.T) {
	ts, _ := testServer(t)

	resp := postJSON(t, ts.URL+"/ips/", map[string]any{"ip": "1.2.3.4"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decodeBody(t, resp)
	assert.Equal(t, true, res["created"])

	resp = postJSON(t, ts.URL+"/ips/", map[string]any{"ip": "1.2.3.4"})
	res = decodeBody(t, resp)
	assert.Equal(t, false, res["created"], "already banned")

	resp, err := http.Get(ts.URL + "/ips/")
	require.NoError(t, err)
	res = decodeBody(t, resp)
	ips, ok := res["ips"].([]any)
	require.True(t, ok)
	assert.Len(t, ips, 1)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/ips/1.2.3.4", http.NoBody)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/ips/1.2.3.4", http.NoBody)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "not banned anymore")
	resp.Body.Close()
}

func TestServer_CommentsModeration(t *testing.T) {
	ts, srv := testServer(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/check", map[string]any{
			"body":       fmt.Sprintf("see http://a.com http://b.com http://c.com post %d", i),
			"ip_address": "10.0.0.9",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		res := decodeBody(t, resp)
		ids = append(ids, int64(res["id"].(float64)))
	}

	resp, err := http.Get(ts.URL + "/comments/?limit=2")
	require.NoError(t, err)
	res := decodeBody(t, resp)
	comments, ok := res["comments"].([]any)
	require.True(t, ok)
	assert.Len(t, comments, 2)

	resp = postJSON(t, ts.URL+"/comments/public", map[string]any{"ids": ids[:2]})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decodeBody(t, resp)
	assert.EqualValues(t, 2, res["updated"])

	resp = postJSON(t, ts.URL+"/comments/ban", map[string]any{"ids": ids})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decodeBody(t, resp)
	assert.EqualValues(t, 1, res["added"], "three comments share one address")

	banned, err := srv.Comments.(*storage.Comments).CountNonPublicByIP(ctx, "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, 1, banned, "one left non-public after marking two public")

	resp = postJSON(t, ts.URL+"/comments/delete", map[string]any{"ids": ids})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decodeBody(t, resp)
	assert.EqualValues(t, 3, res["updated"])

	resp = postJSON(t, ts.URL+"/comments/remove", map[string]any{"ids": []int64{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "empty ids rejected")
	resp.Body.Close()
}
