package blog

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no post exists for an id.
	ErrNotFound = errors.New("post not found")
	// ErrInvalidID is returned for ids the store could never have issued.
	ErrInvalidID = fmt.Errorf("%w: malformed id", ErrNotFound)
)

// Post is the only persisted entity of the blog.
type Post struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Image   string    `json:"image"`
	Body    string    `json:"body"`
	Created time.Time `json:"created"`
}

// PostInput carries the optional fields submitted by the new and edit forms.
// A nil field was not supplied by the caller.
type PostInput struct {
	Title *string `form:"blog[title]"`
	Image *string `form:"blog[image]"`
	Body  *string `form:"blog[body]"`
}

// NewPost builds a post from input. created is used unless it is zero,
// in which case now is used.
func NewPost(in PostInput, created, now time.Time) *Post {
	p := &Post{Created: created}
	if p.Created.IsZero() {
		p.Created = now
	}
	in.ApplyTo(p)
	return p
}

// ApplyTo overwrites the supplied fields of p. ID and Created are never touched.
func (in PostInput) ApplyTo(p *Post) {
	if in.Title != nil {
		p.Title = *in.Title
	}
	if in.Image != nil {
		p.Image = *in.Image
	}
	if in.Body != nil {
		p.Body = *in.Body
	}
}

// Fields returns the supplied fields keyed by their stored name.
func (in PostInput) Fields() map[string]string {
	out := map[string]string{}
	if in.Title != nil {
		out["title"] = *in.Title
	}
	if in.Image != nil {
		out["image"] = *in.Image
	}
	if in.Body != nil {
		out["body"] = *in.Body
	}
	return out
}

// Empty reports whether no field was supplied.
func (in PostInput) Empty() bool {
	return in.Title == nil && in.Image == nil && in.Body == nil
}

// String returns a pointer to s, for building inputs in code.
func String(s string) *string { return &s }
