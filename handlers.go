package vitrine

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// createdPost is the post object echoed back by the creation endpoint. The
// client matches uploaded files against these paths, so thumbnails keep
// their own key here even though read endpoints call them thumbImages.
type createdPost struct {
	Title       string   `json:"title"`
	BodyText    string   `json:"bodyText"`
	Date        string   `json:"date"`
	Type        string   `json:"type"`
	Folder      string   `json:"folder"`
	TitleImage  *string  `json:"titleImage"`
	ExtraImages []string `json:"extraImages"`
	Thumbnails  []string `json:"thumbnails"`
}

type createResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	PostID  int64       `json:"postId"`
	Post    createdPost `json:"post"`
}

type listResponse struct {
	Posts      []PostView `json:"posts"`
	SearchTerm string     `json:"searchTerm,omitempty"`
	Pagination Pagination `json:"pagination"`
}

// handleCreatePost runs the full creation pipeline: parse multipart,
// stage files, commit the write transaction, promote the staged folder.
// Failures before promotion clean up this request's staging directory;
// a failure after commit is logged and surfaced without touching the
// committed row (see Promote).
func (a *App) handleCreatePost(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid multipart form"})
	}

	title := strings.TrimSpace(c.FormValue("title"))
	set, err := a.readUploadSet(form)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
		}
		return err
	}
	if title == "" || set.Count() == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Title and at least one image are required."})
	}

	folder := a.stager.NewFolderName()
	staged, err := a.stager.Stage(folder, set)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
		}
		a.log.Error().Err(err).Str("folder", folder).Msg("staging failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to create post"})
	}

	post := Post{
		Title: title,
		Body:  c.FormValue("bodyText"),
		Date:  c.FormValue("date"),
		Kind:  c.FormValue("type"),
	}
	postID, err := a.store.CreatePost(post, staged)
	if err != nil {
		a.stager.Cleanup(folder)
		if errors.Is(err, ErrInvalidPost) {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: validationMessage(err)})
		}
		a.log.Error().Err(err).Str("folder", folder).Msg("post write transaction failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to create post"})
	}

	if err := a.finalizer.Promote(folder); err != nil {
		// Post-commit failure: the row stays, the files stay staged. An
		// operator can retry promotion by hand; see DESIGN.md.
		a.log.Error().Err(err).Int64("postId", postID).Str("folder", folder).
			Msg("promotion failed after commit, uploads left in staging")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to create post"})
	}
	a.cache.Invalidate()

	return c.JSON(http.StatusCreated, createResponse{
		Success: true,
		Message: "Post created successfully!",
		PostID:  postID,
		Post:    buildCreatedPost(post, folder, staged),
	})
}

func buildCreatedPost(p Post, folder string, staged []StagedImage) createdPost {
	out := createdPost{
		Title:       p.Title,
		BodyText:    p.Body,
		Date:        p.Date,
		Type:        p.Kind,
		Folder:      folder,
		ExtraImages: []string{},
		Thumbnails:  []string{},
	}
	for _, img := range staged {
		switch img.Role {
		case RoleTitle:
			path := img.PublicPath
			out.TitleImage = &path
		case RoleExtra:
			out.ExtraImages = append(out.ExtraImages, img.PublicPath)
		case RoleThumbnail:
			out.Thumbnails = append(out.Thumbnails, img.PublicPath)
		}
	}
	return out
}

// readUploadSet buffers the request's files in memory, enforcing per-field
// count limits before anything touches the disk.
func (a *App) readUploadSet(form *multipart.Form) (UploadSet, error) {
	var set UploadSet
	titles := form.File["titleImage"]
	extras := form.File["extraImages"]
	thumbs := form.File["thumbnails"]

	if len(titles) > 1 {
		return set, fmt.Errorf("%w: at most one title image is allowed", ErrValidation)
	}
	if len(extras) > a.cfg.MaxExtraFiles || len(thumbs) > a.cfg.MaxExtraFiles {
		return set, fmt.Errorf("%w: too many files, maximum is 1 title image and %d extra images", ErrValidation, a.cfg.MaxExtraFiles)
	}

	if len(titles) == 1 {
		buf, err := a.readFile(titles[0])
		if err != nil {
			return set, err
		}
		set.Title = &buf
	}
	for _, fh := range extras {
		buf, err := a.readFile(fh)
		if err != nil {
			return set, err
		}
		set.Extras = append(set.Extras, buf)
	}
	for _, fh := range thumbs {
		buf, err := a.readFile(fh)
		if err != nil {
			return set, err
		}
		set.Thumbs = append(set.Thumbs, buf)
	}
	return set, nil
}

func (a *App) readFile(fh *multipart.FileHeader) (FileBuffer, error) {
	if fh.Size > a.cfg.MaxFileSize {
		return FileBuffer{}, errFileTooLarge(a.cfg.MaxFileSize)
	}
	f, err := fh.Open()
	if err != nil {
		return FileBuffer{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, a.cfg.MaxFileSize+1))
	if err != nil {
		return FileBuffer{}, err
	}
	if int64(len(data)) > a.cfg.MaxFileSize {
		return FileBuffer{}, errFileTooLarge(a.cfg.MaxFileSize)
	}
	return FileBuffer{Data: data, ContentType: fh.Header.Get("Content-Type")}, nil
}

func (a *App) handleGetAll(c echo.Context) error {
	page, limit := parsePageLimit(c)
	total, err := a.store.CountPosts()
	if err != nil {
		return err
	}
	posts, err := a.store.ListPosts(limit, (page-1)*limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listResponse{
		Posts:      posts,
		Pagination: paginate(page, limit, total),
	})
}

// handleGetAllSimple returns every post without pagination. Kept for
// clients that predate the paginated listing.
func (a *App) handleGetAllSimple(c echo.Context) error {
	total, err := a.store.CountPosts()
	if err != nil {
		return err
	}
	posts, err := a.store.ListPosts(int(total), 0)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, posts)
}

func (a *App) handleGetPost(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "bad post id"})
	}
	view, err := a.cache.Get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "post not found"})
		}
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (a *App) handleSearch(c echo.Context) error {
	term := c.QueryParam("q")
	page, limit := parsePageLimit(c)
	total, err := a.store.CountSearch(term)
	if err != nil {
		return err
	}
	posts, err := a.store.SearchPosts(term, limit, (page-1)*limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listResponse{
		Posts:      posts,
		SearchTerm: term,
		Pagination: paginate(page, limit, total),
	})
}

func (a *App) handleDeletePost(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("postid"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "bad post id"})
	}
	folder, err := a.store.PostFolder(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "post not found"})
		}
		return err
	}
	if err := a.store.DeletePost(id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "post not found"})
		}
		return err
	}
	// Folder removal is best-effort: the row is gone, so a leftover
	// directory is garbage rather than an inconsistency.
	if err := a.finalizer.RemoveFolder(folder); err != nil {
		a.log.Warn().Err(err).Int64("postId", id).Str("folder", folder).
			Msg("could not remove upload folder for deleted post")
	}
	a.cache.Invalidate()
	return c.JSON(http.StatusOK, map[string]any{"success": true, "deletedId": id})
}

func (a *App) handleEditPost(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("postid"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "bad post id"})
	}
	var req EditPostRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if err := a.validate.Struct(req); err != nil {
		a.logSecurityEvent(c, err)
		return c.JSON(http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "Validation failed",
			"errors":  fieldErrors(err),
		})
	}
	if err := a.store.UpdatePost(id, req.PostTitle, req.PostBody); err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "post not found"})
		}
		return err
	}
	a.cache.Invalidate()
	return c.JSON(http.StatusOK, map[string]any{"success": true, "editedId": id})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleAdminLogin issues a bearer token after a constant-time credential
// check. Attempts are rate limited per IP.
func (a *App) handleAdminLogin(c echo.Context) error {
	if !a.loginLimiter.Allow(c.RealIP()) {
		return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "Too many login attempts. Try again later."})
	}
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if !checkAdminCredentials(a.cfg, req.Username, req.Password) {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
	}
	token, err := IssueToken(a.cfg.TokenSecret, req.Username, a.cfg.TokenTTL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "token": token})
}

func (a *App) handleHealth(c echo.Context) error {
	if err := a.store.Ping(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "down"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func parsePageLimit(c echo.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	limit, _ = strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = 10
	}
	return page, limit
}

func paginate(page, limit int, total int64) Pagination {
	totalPages := (total + int64(limit) - 1) / int64(limit)
	return Pagination{
		Page:        page,
		Limit:       limit,
		TotalPosts:  total,
		TotalPages:  totalPages,
		HasNextPage: int64(page) < totalPages,
		HasPrevPage: page > 1,
	}
}

func errFileTooLarge(max int64) error {
	return fmt.Errorf("%w: file too large, maximum size is %s per image", ErrValidation, FormatFileSize(max))
}

// validationMessage strips the sentinel prefix so callers see only the
// human-readable part.
func validationMessage(err error) string {
	msg := err.Error()
	msg = strings.TrimPrefix(msg, ErrValidation.Error()+": ")
	msg = strings.TrimPrefix(msg, ErrInvalidPost.Error()+": ")
	return msg
}
