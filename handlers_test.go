package vitrine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestApp(t *testing.T, mutate ...func(*Config)) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		Addr:           ":0",
		BaseURL:        "http://localhost:3000",
		DatabasePath:   filepath.Join(dir, "test.db"),
		UploadDir:      filepath.Join(dir, "uploads"),
		MaxFileSize:    5 << 20,
		MaxExtraFiles:  5,
		AdminUsername:  "admin",
		AdminPassword:  "hunter2",
		TokenSecret:    "test-secret",
		TokenTTL:       time.Hour,
		FormRateMax:    10,
		FormRateWindow: 15 * time.Minute,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	app, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}
	t.Cleanup(func() { app.store.Close() })
	return app
}

func doRequest(app *App, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.echo.ServeHTTP(rec, req)
	return rec
}

// postForm builds a multipart request for the creation endpoint. Files are
// raw image bytes keyed by field name; multiple files per field are allowed.
func postForm(t *testing.T, fields map[string]string, files map[string][]FileBuffer) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for field, bufs := range files {
		for i, buf := range bufs {
			fw, err := w.CreateFormFile(field, fmt.Sprintf("%s_%d.jpg", field, i))
			if err != nil {
				t.Fatal(err)
			}
			if _, err := fw.Write(buf.Data); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/posts/new-post", &body)
	req.Header.Set(headerContentType, w.FormDataContentType())
	return req
}

const headerContentType = "Content-Type"

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("bad JSON response %q: %v", rec.Body.String(), err)
	}
}

func createTestPost(t *testing.T, app *App, title string, pairs int) int64 {
	t.Helper()
	bufs := make([]FileBuffer, pairs)
	for i := range bufs {
		bufs[i] = jpegBuf(32)
	}
	titleImg := jpegBuf(64)
	files := map[string][]FileBuffer{"titleImage": {titleImg}}
	if pairs > 0 {
		files["extraImages"] = bufs
		files["thumbnails"] = bufs
	}
	rec := doRequest(app, postForm(t, map[string]string{
		"title":    title,
		"bodyText": "body of " + title,
		"date":     "01_02_2024",
		"type":     KindMixed,
	}, files))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp createResponse
	decodeJSON(t, rec, &resp)
	return resp.PostID
}

func TestCreatePostEndToEnd(t *testing.T) {
	app := newTestApp(t)

	titleImg := jpegBuf(64)
	rec := doRequest(app, postForm(t, map[string]string{
		"title":    "Vintage Omega restoration",
		"bodyText": "Full service and polish.",
		"date":     "15_03_2024",
		"type":     KindMixed,
	}, map[string][]FileBuffer{
		"titleImage":  {titleImg},
		"extraImages": {jpegBuf(32), jpegBuf(32)},
		"thumbnails":  {jpegBuf(16), jpegBuf(16)},
	}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp createResponse
	decodeJSON(t, rec, &resp)
	if !resp.Success || resp.PostID == 0 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Post.TitleImage == nil {
		t.Fatal("expected a title image path")
	}
	if len(resp.Post.ExtraImages) != 2 || len(resp.Post.Thumbnails) != 2 {
		t.Errorf("extras = %d, thumbnails = %d, want 2/2", len(resp.Post.ExtraImages), len(resp.Post.Thumbnails))
	}

	// Files must be promoted into the public tree with nothing left staged.
	folder := resp.Post.Folder
	entries, err := os.ReadDir(filepath.Join(app.cfg.UploadDir, folder))
	if err != nil {
		t.Fatalf("promoted folder unreadable: %v", err)
	}
	if len(entries) != 5 {
		t.Errorf("promoted files = %d, want 5", len(entries))
	}
	if _, err := os.Stat(app.stager.StagingDir(folder)); !os.IsNotExist(err) {
		t.Error("staging dir should be gone after promotion")
	}

	// And the row must be readable.
	getRec := doRequest(app, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/posts/get/%d", resp.PostID), nil))
	if getRec.Code != http.StatusOK {
		t.Fatalf("get returned %d", getRec.Code)
	}
	var view PostView
	decodeJSON(t, getRec, &view)
	if view.PostTitle != "Vintage Omega restoration" {
		t.Errorf("title = %q", view.PostTitle)
	}
	if len(view.ExtraImages) != 2 || len(view.ThumbImages) != 2 {
		t.Errorf("view extras = %d, thumbs = %d", len(view.ExtraImages), len(view.ThumbImages))
	}
}

func TestCreatePostRequiresTitleAndImage(t *testing.T) {
	app := newTestApp(t)

	rec := doRequest(app, postForm(t, map[string]string{"bodyText": "no title"}, map[string][]FileBuffer{
		"titleImage": {jpegBuf(16)},
	}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing title: status = %d, want 400", rec.Code)
	}

	rec = doRequest(app, postForm(t, map[string]string{"title": "no images"}, nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing images: status = %d, want 400", rec.Code)
	}
}

func TestCreatePostMismatchedPairsLeavesNothingBehind(t *testing.T) {
	app := newTestApp(t)

	rec := doRequest(app, postForm(t, map[string]string{"title": "broken"}, map[string][]FileBuffer{
		"extraImages": {jpegBuf(16), jpegBuf(16)},
		"thumbnails":  {jpegBuf(16)},
	}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}

	total, err := app.store.CountPosts()
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("post rows = %d, want 0", total)
	}
	assertNoStagedLeftovers(t, app)
}

func TestCreatePostStoreFailureCleansStaging(t *testing.T) {
	app := newTestApp(t)

	// Break the write transaction after staging succeeds.
	if _, err := app.store.db.Exec("DROP TABLE images"); err != nil {
		t.Fatal(err)
	}

	titleImg := jpegBuf(64)
	rec := doRequest(app, postForm(t, map[string]string{"title": "doomed"}, map[string][]FileBuffer{
		"titleImage": {titleImg},
	}))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500: %s", rec.Code, rec.Body.String())
	}
	var resp errorResponse
	decodeJSON(t, rec, &resp)
	if strings.Contains(resp.Error, "images") || strings.Contains(resp.Error, "SQL") {
		t.Errorf("internal details leaked: %q", resp.Error)
	}
	assertNoStagedLeftovers(t, app)
}

func assertNoStagedLeftovers(t *testing.T, app *App) {
	t.Helper()
	staging := filepath.Join(app.cfg.UploadDir, ".staging")
	entries, err := os.ReadDir(staging)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staged leftovers: %d entries", len(entries))
	}
}

func TestStagedFilesAreNotServed(t *testing.T) {
	app := newTestApp(t)

	dir := app.stager.StagingDir("post_x")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secret.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(app, httptest.NewRequest(http.MethodGet, "/public/uploads/.staging/post_x/secret.jpg", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetAllPagination(t *testing.T) {
	app := newTestApp(t)
	for i := 0; i < 5; i++ {
		createTestPost(t, app, fmt.Sprintf("post %d", i), 0)
	}

	rec := doRequest(app, httptest.NewRequest(http.MethodGet, "/api/posts/get-all?page=1&limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp listResponse
	decodeJSON(t, rec, &resp)
	if len(resp.Posts) != 2 {
		t.Errorf("posts = %d, want 2", len(resp.Posts))
	}
	p := resp.Pagination
	if p.TotalPosts != 5 || p.TotalPages != 3 || !p.HasNextPage || p.HasPrevPage {
		t.Errorf("pagination = %+v", p)
	}

	rec = doRequest(app, httptest.NewRequest(http.MethodGet, "/api/posts/get-all?page=3&limit=2", nil))
	decodeJSON(t, rec, &resp)
	if len(resp.Posts) != 1 || resp.Pagination.HasNextPage || !resp.Pagination.HasPrevPage {
		t.Errorf("last page: posts = %d, pagination = %+v", len(resp.Posts), resp.Pagination)
	}
}

func TestGetAllSimple(t *testing.T) {
	app := newTestApp(t)
	for i := 0; i < 3; i++ {
		createTestPost(t, app, fmt.Sprintf("simple %d", i), 0)
	}

	rec := doRequest(app, httptest.NewRequest(http.MethodGet, "/api/posts/get-all-simple", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var posts []PostView
	decodeJSON(t, rec, &posts)
	if len(posts) != 3 {
		t.Errorf("posts = %d, want 3", len(posts))
	}
}

func TestGetPostNotFoundResponse(t *testing.T) {
	app := newTestApp(t)

	rec := doRequest(app, httptest.NewRequest(http.MethodGet, "/api/posts/get/999", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	rec = doRequest(app, httptest.NewRequest(http.MethodGet, "/api/posts/get/notanumber", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	app := newTestApp(t)
	createTestPost(t, app, "Seamaster service", 0)
	createTestPost(t, app, "Strap swap", 0)

	rec := doRequest(app, httptest.NewRequest(http.MethodGet, "/api/posts/search?q=seamaster", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp listResponse
	decodeJSON(t, rec, &resp)
	if len(resp.Posts) != 1 {
		t.Errorf("matches = %d, want 1", len(resp.Posts))
	}
	if resp.SearchTerm != "seamaster" {
		t.Errorf("searchTerm = %q", resp.SearchTerm)
	}
}

func TestDeleteRequiresAuth(t *testing.T) {
	app := newTestApp(t)
	id := createTestPost(t, app, "protected", 0)

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/posts/delete/%d", id), nil)
	rec := doRequest(app, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/posts/delete/%d", id), nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = doRequest(app, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}
}

func TestDeletePostRemovesRowAndFolder(t *testing.T) {
	app := newTestApp(t)
	id := createTestPost(t, app, "doomed", 1)

	folder, err := app.store.PostFolder(id)
	if err != nil {
		t.Fatal(err)
	}

	token, err := IssueToken(app.cfg.TokenSecret, "admin", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/posts/delete/%d", id), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := doRequest(app, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	if _, err := app.store.GetPost(id); err == nil {
		t.Error("post should be gone")
	}
	if _, err := os.Stat(filepath.Join(app.cfg.UploadDir, folder)); !os.IsNotExist(err) {
		t.Error("upload folder should be gone")
	}
}

func TestDeletePostSurvivesMissingFolder(t *testing.T) {
	app := newTestApp(t)
	id := createTestPost(t, app, "orphaned", 0)

	folder, err := app.store.PostFolder(id)
	if err != nil {
		t.Fatal(err)
	}
	// Simulate a folder already reaped out of band.
	if err := os.RemoveAll(filepath.Join(app.cfg.UploadDir, folder)); err != nil {
		t.Fatal(err)
	}

	token, _ := IssueToken(app.cfg.TokenSecret, "admin", time.Hour)
	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/posts/delete/%d", id), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := doRequest(app, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 even with the folder gone", rec.Code)
	}
}

func TestEditPost(t *testing.T) {
	app := newTestApp(t)
	id := createTestPost(t, app, "before", 0)
	token, _ := IssueToken(app.cfg.TokenSecret, "admin", time.Hour)

	body := strings.NewReader(`{"postTitle":"after","postBody":"updated body"}`)
	req := httptest.NewRequest(http.MethodPatch, fmt.Sprintf("/api/posts/edit/%d", id), body)
	req.Header.Set(headerContentType, "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := doRequest(app, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	view, err := app.store.GetPost(id)
	if err != nil {
		t.Fatal(err)
	}
	if view.PostTitle != "after" || view.PostBody != "updated body" {
		t.Errorf("got %q/%q", view.PostTitle, view.PostBody)
	}
}

func TestEditPostValidation(t *testing.T) {
	app := newTestApp(t)
	id := createTestPost(t, app, "unchanged", 0)
	token, _ := IssueToken(app.cfg.TokenSecret, "admin", time.Hour)

	body := strings.NewReader(`{"postTitle":"","postBody":"x"}`)
	req := httptest.NewRequest(http.MethodPatch, fmt.Sprintf("/api/posts/edit/%d", id), body)
	req.Header.Set(headerContentType, "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := doRequest(app, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success bool     `json:"success"`
		Message string   `json:"message"`
		Errors  []string `json:"errors"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Success || resp.Message != "Validation failed" || len(resp.Errors) == 0 {
		t.Errorf("response = %+v", resp)
	}
}

func TestAdminLogin(t *testing.T) {
	app := newTestApp(t)

	login := func(user, pass string) *httptest.ResponseRecorder {
		body := strings.NewReader(fmt.Sprintf(`{"username":%q,"password":%q}`, user, pass))
		req := httptest.NewRequest(http.MethodPost, "/api/admin/login", body)
		req.Header.Set(headerContentType, "application/json")
		return doRequest(app, req)
	}

	rec := login("admin", "hunter2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	decodeJSON(t, rec, &resp)
	if !resp.Success || resp.Token == "" {
		t.Fatalf("response = %+v", resp)
	}

	// The issued token must pass the server's own verifier.
	if _, err := app.verifier.Verify(resp.Token); err != nil {
		t.Errorf("issued token rejected: %v", err)
	}

	if rec := login("admin", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", rec.Code)
	}
	if rec := login("intruder", "hunter2"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong username: status = %d, want 401", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t)
	rec := doRequest(app, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestCacheControlHeaders(t *testing.T) {
	app := newTestApp(t)

	rec := doRequest(app, httptest.NewRequest(http.MethodGet, "/api/posts/get-all", nil))
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("api Cache-Control = %q, want no-store", got)
	}
}

func TestUnknownRouteReturnsJSON(t *testing.T) {
	app := newTestApp(t)
	rec := doRequest(app, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp errorResponse
	decodeJSON(t, rec, &resp)
	if resp.Error != "Not found" {
		t.Errorf("error = %q", resp.Error)
	}
}
