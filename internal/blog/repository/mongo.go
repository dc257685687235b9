package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/restfulblog/restfulblog/internal/blog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// postDocument is the stored shape of a post. Mongo assigns _id on insert.
type postDocument struct {
	ID      primitive.ObjectID `bson:"_id,omitempty"`
	Title   string             `bson:"title"`
	Image   string             `bson:"image"`
	Body    string             `bson:"body"`
	Created time.Time          `bson:"created"`
}

func toDocument(p *blog.Post) postDocument {
	return postDocument{Title: p.Title, Image: p.Image, Body: p.Body, Created: p.Created}
}

func (d postDocument) post() *blog.Post {
	return &blog.Post{ID: d.ID.Hex(), Title: d.Title, Image: d.Image, Body: d.Body, Created: d.Created}
}

// MongoRepo implements Repository over a single MongoDB collection.
type MongoRepo struct {
	col *mongo.Collection
}

func NewMongoRepo(col *mongo.Collection) *MongoRepo {
	return &MongoRepo{col: col}
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, blog.ErrInvalidID
	}
	return oid, nil
}

// setDocument builds the $set update for the supplied input fields.
// It returns nil when nothing was supplied.
func setDocument(in blog.PostInput) bson.M {
	fields := in.Fields()
	if len(fields) == 0 {
		return nil
	}
	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}
	return bson.M{"$set": set}
}

func (m *MongoRepo) Create(ctx context.Context, p *blog.Post) (string, error) {
	res, err := m.col.InsertOne(ctx, toDocument(p))
	if err != nil {
		return "", fmt.Errorf("insert post: %w", err)
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("insert post: unexpected id type %T", res.InsertedID)
	}
	p.ID = oid.Hex()
	return p.ID, nil
}

func (m *MongoRepo) Get(ctx context.Context, id string) (*blog.Post, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	var d postDocument
	if err := m.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, blog.ErrNotFound
		}
		return nil, fmt.Errorf("find post %s: %w", id, err)
	}
	return d.post(), nil
}

func (m *MongoRepo) List(ctx context.Context) ([]*blog.Post, error) {
	cur, err := m.col.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find posts: %w", err)
	}
	defer cur.Close(ctx)
	out := []*blog.Post{}
	for cur.Next(ctx) {
		var d postDocument
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("decode post: %w", err)
		}
		out = append(out, d.post())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

func (m *MongoRepo) Update(ctx context.Context, id string, in blog.PostInput) (*blog.Post, error) {
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	update := setDocument(in)
	if update == nil {
		return m.Get(ctx, id)
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var d postDocument
	if err := m.col.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, blog.ErrNotFound
		}
		return nil, fmt.Errorf("update post %s: %w", id, err)
	}
	return d.post(), nil
}

func (m *MongoRepo) Delete(ctx context.Context, id string) error {
	oid, err := parseID(id)
	if err != nil {
		return err
	}
	res, err := m.col.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete post %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return blog.ErrNotFound
	}
	return nil
}

func (m *MongoRepo) Ping(ctx context.Context) error {
	return m.col.Database().Client().Ping(ctx, readpref.Primary())
}
