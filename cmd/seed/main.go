package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/restfulblog/restfulblog/internal/blog"
	"github.com/restfulblog/restfulblog/internal/blog/service"
	"github.com/restfulblog/restfulblog/internal/config"
	"github.com/restfulblog/restfulblog/internal/database"
	"github.com/restfulblog/restfulblog/pkg/logger"
)

// seed inserts a filler post so a fresh database has something to show.
func main() {
	title := flag.String("title", "Test Blog", "post title")
	image := flag.String("image", "https://encrypted-tbn0.gstatic.com/images?q=tbn:ANd9GcSaL66FW8ywaYiexRcHP72DxynyxgbkSlQy41q-H96O-TQAJNk-", "post image URL")
	body := flag.String("body", "This is a test blog post to see if something is working", "post body")
	flag.Parse()

	logger.Init(os.Getenv("LOG_LEVEL"))
	if err := run(blog.PostInput{Title: title, Image: image, Body: body}); err != nil {
		logger.Fatalf("%v", err)
	}
}

// run returns every failure so deferred cleanup happens before main exits non-zero.
func run(in blog.PostInput) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Store != config.StoreMongo {
		return fmt.Errorf("seeding needs BLOG_STORE=%s, got %s", config.StoreMongo, cfg.Store)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := database.ConnectWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, cfg.MongoDB.ConnectAttempts, time.Second)
	if err != nil {
		return err
	}
	defer database.Disconnect(client, 5*time.Second)

	return seed(ctx, service.NewMongoService(client.Database(cfg.MongoDB.Database).Collection(cfg.MongoDB.Collection)), in)
}

func seed(ctx context.Context, svc service.Service, in blog.PostInput) error {
	p, err := svc.Create(ctx, in)
	if err != nil {
		return fmt.Errorf("seed post: %w", err)
	}
	logger.Infof("seeded post %s (%q)", p.ID, p.Title)
	return nil
}
