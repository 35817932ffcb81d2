package vitrine

// Post kinds as classified by the client. The server stores the kind as-is
// and does not cross-check it against the actual content.
const (
	KindBlog    = "blog"
	KindGallery = "gallery"
	KindMixed   = "mixed"
	KindEmpty   = "empty"
)

// Image roles. Every extra image is paired with exactly one thumbnail
// sharing its order index.
const (
	RoleTitle     = "title"
	RoleExtra     = "extra"
	RoleThumbnail = "thumbnail"
)

// Post is the core content row stored in SQLite.
type Post struct {
	ID    int64
	Title string
	Body  string
	Date  string
	Kind  string
}

// Image is a single stored file belonging to a post. Images are created in
// the same transaction as their post and removed by cascade on delete.
type Image struct {
	ID         int64  `json:"id"`
	PostID     int64  `json:"-"`
	Path       string `json:"path"`
	Role       string `json:"type"`
	Folder     string `json:"-"`
	OrderIndex int    `json:"-"`
}

// TitleImageView is the title image shape the client expects.
type TitleImageView struct {
	ID   int64  `json:"id"`
	Path string `json:"titlePath"`
	Role string `json:"type"`
}

// PostView is one post with its images grouped by role, as returned by the
// read endpoints.
type PostView struct {
	PostID      int64           `json:"postId"`
	PostTitle   string          `json:"postTitle"`
	PostBody    string          `json:"postBody"`
	Date        string          `json:"date"`
	PostType    string          `json:"postType"`
	PostFolder  string          `json:"postFolder"`
	TitleImage  *TitleImageView `json:"titleImage"`
	ExtraImages []Image         `json:"extraImages"`
	ThumbImages []Image         `json:"thumbImages"`
}

// Pagination carries list metadata for paginated responses.
type Pagination struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalPosts  int64 `json:"totalPosts"`
	TotalPages  int64 `json:"totalPages"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
}

// EditPostRequest is the PATCH /api/posts/edit/:postid payload.
type EditPostRequest struct {
	PostTitle string `json:"postTitle" validate:"required,min=1,max=200"`
	PostBody  string `json:"postBody" validate:"required,min=1,max=10000"`
}

// ContactRequest is the sanitized contact-form submission.
type ContactRequest struct {
	FirstName string `json:"firstName" validate:"required,min=1,max=50"`
	LastName  string `json:"lastName" validate:"required,min=1,max=50"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Phone     string `json:"phone" validate:"max=25"`
	Message   string `json:"message" validate:"required,min=10,max=10000"`
}
