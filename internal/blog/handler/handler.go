package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/restfulblog/restfulblog/internal/blog"
	"github.com/restfulblog/restfulblog/internal/blog/service"
	"github.com/restfulblog/restfulblog/internal/storage"
	"github.com/restfulblog/restfulblog/internal/views"
	"github.com/restfulblog/restfulblog/pkg/logger"
	"github.com/restfulblog/restfulblog/pkg/metrics"
)

const (
	listPath    = "/blogs"
	newPath     = "/blogs/new"
	imagePrefix = "/images/"
	// form key of the optional image upload
	imageFileField = "blog[imageFile]"
)

// ImageStore is the object storage used for uploaded post images.
type ImageStore interface {
	UploadFile(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	DownloadFile(ctx context.Context, key string) (*storage.Object, error)
	RemoveFile(ctx context.Context, key string) error
}

// PostHandler maps the blog routes onto the post service. Every store
// failure is logged and turned into a redirect.
type PostHandler struct {
	svc    service.Service
	images ImageStore
}

// NewPostHandler creates the controller. images may be nil, which disables uploads.
func NewPostHandler(svc service.Service, images ImageStore) *PostHandler {
	return &PostHandler{svc: svc, images: images}
}

// Register binds the routes. writeGuards run in front of create, update and delete.
func (h *PostHandler) Register(r gin.IRouter, writeGuards ...gin.HandlerFunc) {
	r.GET("/", h.Root)
	r.GET("/blogs", h.List)
	r.GET("/blogs/new", h.NewForm)
	r.GET("/blogs/:id", h.Show)
	r.GET("/blogs/:id/edit", h.EditForm)

	guarded := func(final gin.HandlerFunc) []gin.HandlerFunc {
		out := make([]gin.HandlerFunc, 0, len(writeGuards)+1)
		return append(append(out, writeGuards...), final)
	}
	r.POST("/blogs", guarded(h.Create)...)
	r.PUT("/blogs/:id", guarded(h.Update)...)
	r.DELETE("/blogs/:id", guarded(h.Delete)...)

	if h.images != nil {
		r.GET(imagePrefix+"*key", h.Image)
	}
}

func showPath(id string) string { return listPath + "/" + id }
func editPath(id string) string { return showPath(id) + "/edit" }

// redirect issues the 302 used for both success and failure outcomes.
func redirect(c *gin.Context, to string) {
	c.Redirect(http.StatusFound, to)
}

// logStoreError logs err at warn for missing posts and error otherwise.
func logStoreError(op, id string, err error) {
	if errors.Is(err, blog.ErrNotFound) {
		logger.Warnf("%s post %q: %v", op, id, err)
		return
	}
	logger.Errorf("%s post %q: %v", op, id, err)
}

func (h *PostHandler) Root(c *gin.Context) {
	redirect(c, listPath)
}

func (h *PostHandler) List(c *gin.Context) {
	posts, err := h.svc.List(c.Request.Context())
	if err != nil {
		logger.Errorf("list posts: %v", err)
		c.HTML(http.StatusInternalServerError, views.Index, gin.H{
			"Posts": []*blog.Post{},
			"Error": "Posts could not be loaded right now.",
		})
		return
	}
	c.HTML(http.StatusOK, views.Index, gin.H{"Posts": posts})
}

func (h *PostHandler) NewForm(c *gin.Context) {
	c.HTML(http.StatusOK, views.New, gin.H{"Uploads": h.images != nil})
}

func (h *PostHandler) Create(c *gin.Context) {
	in, key, err := h.bindInput(c)
	if err != nil {
		logger.Errorf("create post: %v", err)
		redirect(c, newPath)
		return
	}
	p, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		logStoreError("create", "", err)
		h.discardUpload(c, key)
		redirect(c, newPath)
		return
	}
	logger.Debugf("created post %s", p.ID)
	redirect(c, listPath)
}

func (h *PostHandler) Show(c *gin.Context) {
	id := c.Param("id")
	p, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		logStoreError("show", id, err)
		redirect(c, listPath)
		return
	}
	c.HTML(http.StatusOK, views.Show, gin.H{"Post": p})
}

func (h *PostHandler) EditForm(c *gin.Context) {
	id := c.Param("id")
	p, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		logStoreError("edit", id, err)
		redirect(c, listPath)
		return
	}
	c.HTML(http.StatusOK, views.Edit, gin.H{"Post": p, "Uploads": h.images != nil})
}

func (h *PostHandler) Update(c *gin.Context) {
	id := c.Param("id")
	in, key, err := h.bindInput(c)
	if err != nil {
		logger.Errorf("update post %q: %v", id, err)
		redirect(c, editPath(id))
		return
	}
	if _, err := h.svc.Update(c.Request.Context(), id, in); err != nil {
		logStoreError("update", id, err)
		h.discardUpload(c, key)
		if errors.Is(err, blog.ErrNotFound) {
			redirect(c, listPath)
			return
		}
		redirect(c, editPath(id))
		return
	}
	redirect(c, showPath(id))
}

func (h *PostHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		logStoreError("delete", id, err)
		if errors.Is(err, blog.ErrNotFound) {
			redirect(c, listPath)
			return
		}
		redirect(c, showPath(id))
		return
	}
	redirect(c, listPath)
}

// Image streams an uploaded post image from object storage.
func (h *PostHandler) Image(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" || strings.Contains(key, "..") {
		c.Status(http.StatusNotFound)
		return
	}
	obj, err := h.images.DownloadFile(c.Request.Context(), key)
	if err != nil {
		logger.Warnf("image %q: %v", key, err)
		c.Status(http.StatusNotFound)
		return
	}
	defer obj.Body.Close()
	ct := obj.ContentType
	if ct == "" {
		ct = mime.TypeByExtension(path.Ext(key))
	}
	c.DataFromReader(http.StatusOK, obj.Size, ct, obj.Body, nil)
}

// discardUpload removes an image stored for a write that then failed.
func (h *PostHandler) discardUpload(c *gin.Context, key string) {
	if key == "" {
		return
	}
	if err := h.images.RemoveFile(c.Request.Context(), key); err != nil {
		logger.Warnf("remove orphaned image %q: %v", key, err)
		return
	}
	metrics.ImageUploads.WithLabelValues("discarded").Inc()
}

// bindInput reads the blog[...] form fields and, when an image file was
// uploaded, stores it and points Image at it. key is the stored object, or
// empty when nothing was uploaded.
func (h *PostHandler) bindInput(c *gin.Context) (in blog.PostInput, key string, err error) {
	if err := c.ShouldBind(&in); err != nil {
		return in, "", fmt.Errorf("bind form: %w", err)
	}
	if h.images == nil {
		return in, "", nil
	}
	fh, err := c.FormFile(imageFileField)
	if err != nil {
		// no file part, or not a multipart request
		return in, "", nil
	}
	f, err := fh.Open()
	if err != nil {
		return in, "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	key = storage.ObjectKey(fh.Filename)
	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = mime.TypeByExtension(path.Ext(key))
	}
	if err := h.images.UploadFile(c.Request.Context(), key, f, fh.Size, ct); err != nil {
		metrics.ImageUploads.WithLabelValues("error").Inc()
		return in, "", fmt.Errorf("upload image: %w", err)
	}
	metrics.ImageUploads.WithLabelValues("ok").Inc()
	in.Image = blog.String(imagePrefix + key)
	return in, key, nil
}
