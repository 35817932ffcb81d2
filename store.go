package vitrine

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested post does not exist.
var ErrNotFound = sql.ErrNoRows

// ErrInvalidPost is returned when a creation request fails its
// preconditions before any row is written.
var ErrInvalidPost = errors.New("invalid post")

// Store wraps a SQLite database and provides CRUD operations for posts and
// their images.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	// Pragmas go in the DSN so every pooled connection gets them:
	// foreign_keys is per-connection and cascade deletes depend on it.
	// WAL plus busy_timeout lets writers wait instead of failing with
	// SQLITE_BUSY; synchronous=NORMAL is safe under WAL.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping() error {
	return s.db.Ping()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS posts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    post_title TEXT,
    post_body TEXT,
    date TEXT,
    post_type TEXT
);
CREATE TABLE IF NOT EXISTS images (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    post_id INTEGER NOT NULL,
    image_path TEXT NOT NULL,
    image_type TEXT NOT NULL,
    folder_url TEXT,
    order_index INTEGER DEFAULT 0,
    FOREIGN KEY (post_id) REFERENCES posts(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_images_post_id ON images(post_id);
`)
	if err != nil {
		return err
	}
	// Databases created before the pairing feature lack order_index.
	if _, err := s.db.Exec(`ALTER TABLE images ADD COLUMN order_index INTEGER DEFAULT 0;`); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return nil
		}
		return err
	}
	return nil
}

// CreatePost inserts one post row plus all of its image rows in a single
// transaction and returns the generated post id. Either every row is
// visible after commit or none are. Preconditions are checked before the
// transaction opens: the title must be non-empty, the post must carry at
// least one image, and every extra image needs a paired thumbnail.
func (s *Store) CreatePost(p Post, images []StagedImage) (int64, error) {
	if strings.TrimSpace(p.Title) == "" {
		return 0, fmt.Errorf("%w: title is required", ErrInvalidPost)
	}
	var extras, thumbs, total int
	for _, img := range images {
		switch img.Role {
		case RoleExtra:
			extras++
		case RoleThumbnail:
			thumbs++
		}
		total++
	}
	if total == 0 {
		return 0, fmt.Errorf("%w: at least one image is required", ErrInvalidPost)
	}
	if extras != thumbs {
		return 0, fmt.Errorf("%w: %d extra images but %d thumbnails", ErrInvalidPost, extras, thumbs)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO posts (post_title, post_body, date, post_type) VALUES (?, ?, ?, ?)`,
		p.Title, p.Body, p.Date, p.Kind)
	if err != nil {
		return 0, err
	}
	postID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	stmt, err := tx.Prepare(`INSERT INTO images (post_id, image_path, image_type, folder_url, order_index) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	for _, img := range images {
		if _, err := stmt.Exec(postID, img.PublicPath, img.Role, img.Folder, img.OrderIndex); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return postID, nil
}

// GetPost returns a single post with its images grouped by role.
func (s *Store) GetPost(id int64) (PostView, error) {
	var p Post
	err := s.db.QueryRow(`SELECT id, post_title, post_body, date, post_type FROM posts WHERE id = ?`, id).
		Scan(&p.ID, &p.Title, &p.Body, &p.Date, &p.Kind)
	if err != nil {
		return PostView{}, err
	}
	byPost, err := s.imagesForPosts([]int64{p.ID})
	if err != nil {
		return PostView{}, err
	}
	return buildView(p, byPost[p.ID]), nil
}

// CountPosts returns the total number of posts.
func (s *Store) CountPosts() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM posts`).Scan(&n)
	return n, err
}

// ListPosts returns one page of posts ordered by descending id, with their
// images attached.
func (s *Store) ListPosts(limit, offset int) ([]PostView, error) {
	rows, err := s.db.Query(`SELECT id, post_title, post_body, date, post_type FROM posts ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.collectViews(rows)
}

// CountSearch returns how many posts match the substring term on title or body.
func (s *Store) CountSearch(term string) (int64, error) {
	var n int64
	pattern := "%" + term + "%"
	err := s.db.QueryRow(`SELECT COUNT(*) FROM posts WHERE post_title LIKE ? OR post_body LIKE ?`, pattern, pattern).Scan(&n)
	return n, err
}

// SearchPosts returns one page of posts whose title or body contains term,
// ordered by descending id.
func (s *Store) SearchPosts(term string, limit, offset int) ([]PostView, error) {
	pattern := "%" + term + "%"
	rows, err := s.db.Query(`SELECT id, post_title, post_body, date, post_type FROM posts WHERE post_title LIKE ? OR post_body LIKE ? ORDER BY id DESC LIMIT ? OFFSET ?`,
		pattern, pattern, limit, offset)
	if err != nil {
		return nil, err
	}
	return s.collectViews(rows)
}

// UpdatePost edits title and body in place. Returns ErrNotFound when the
// post does not exist.
func (s *Store) UpdatePost(id int64, title, body string) error {
	res, err := s.db.Exec(`UPDATE posts SET post_title = ?, post_body = ? WHERE id = ?`, title, body, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PostFolder returns the upload folder shared by a post's images, or an
// empty string when the post has no images. ErrNotFound when the post is
// absent.
func (s *Store) PostFolder(id int64) (string, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM posts WHERE id = ?`, id).Scan(&exists); err != nil {
		return "", err
	}
	if exists == 0 {
		return "", ErrNotFound
	}
	var folder sql.NullString
	err := s.db.QueryRow(`SELECT folder_url FROM images WHERE post_id = ? LIMIT 1`, id).Scan(&folder)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return folder.String, nil
}

// DeletePost removes the post row; the foreign key cascades to its image
// rows. Returns ErrNotFound when nothing was deleted.
func (s *Store) DeletePost(id int64) error {
	res, err := s.db.Exec(`DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ImageCount returns how many image rows reference the given post.
func (s *Store) ImageCount(id int64) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM images WHERE post_id = ?`, id).Scan(&n)
	return n, err
}

func (s *Store) collectViews(rows *sql.Rows) ([]PostView, error) {
	defer rows.Close()
	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.Title, &p.Body, &p.Date, &p.Kind); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return []PostView{}, nil
	}
	ids := make([]int64, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	byPost, err := s.imagesForPosts(ids)
	if err != nil {
		return nil, err
	}
	views := make([]PostView, len(posts))
	for i, p := range posts {
		views[i] = buildView(p, byPost[p.ID])
	}
	return views, nil
}

// imagesForPosts fetches images for the given post ids in one query,
// ordered by post, order index, then id.
func (s *Store) imagesForPosts(ids []int64) (map[int64][]Image, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(`SELECT id, post_id, image_path, image_type, folder_url, order_index FROM images WHERE post_id IN (`+placeholders+`) ORDER BY post_id, order_index, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byPost := make(map[int64][]Image)
	for rows.Next() {
		var img Image
		var folder sql.NullString
		if err := rows.Scan(&img.ID, &img.PostID, &img.Path, &img.Role, &folder, &img.OrderIndex); err != nil {
			return nil, err
		}
		img.Folder = folder.String
		byPost[img.PostID] = append(byPost[img.PostID], img)
	}
	return byPost, rows.Err()
}

func buildView(p Post, images []Image) PostView {
	v := PostView{
		PostID:      p.ID,
		PostTitle:   p.Title,
		PostBody:    p.Body,
		Date:        p.Date,
		PostType:    p.Kind,
		ExtraImages: []Image{},
		ThumbImages: []Image{},
	}
	for _, img := range images {
		if v.PostFolder == "" {
			v.PostFolder = img.Folder
		}
		switch img.Role {
		case RoleTitle:
			v.TitleImage = &TitleImageView{ID: img.ID, Path: img.Path, Role: img.Role}
		case RoleExtra:
			v.ExtraImages = append(v.ExtraImages, img)
		case RoleThumbnail:
			v.ThumbImages = append(v.ThumbImages, img)
		}
	}
	return v
}
