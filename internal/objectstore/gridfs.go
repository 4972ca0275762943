package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// GridFSStore stores objects in a MongoDB GridFS bucket, using the storage
// path as the GridFS filename.
type GridFSStore struct {
	db         *mongo.Database
	bucketName string
	logger     *zap.Logger
}

type gridFSFile struct {
	ID       primitive.ObjectID `bson:"_id"`
	Length   int64              `bson:"length"`
	Metadata struct {
		ContentType string `bson:"content_type"`
	} `bson:"metadata"`
}

func NewGridFSStore(db *mongo.Database, bucketName string, logger *zap.Logger) *GridFSStore {
	if bucketName == "" {
		bucketName = "fs"
	}
	return &GridFSStore{db: db, bucketName: bucketName, logger: logger}
}

// bucket opens a bucket carrying ctx's deadline. Deadlines are per bucket in
// the driver, so each call gets its own.
func (s *GridFSStore) bucket(ctx context.Context) (*gridfs.Bucket, error) {
	b, err := gridfs.NewBucket(s.db, options.GridFSBucket().SetName(s.bucketName))
	if err != nil {
		return nil, fmt.Errorf("failed to open gridfs bucket: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := b.SetWriteDeadline(deadline); err != nil {
			return nil, err
		}
		if err := b.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (s *GridFSStore) Put(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	b, err := s.bucket(ctx)
	if err != nil {
		return "", err
	}
	opts := options.GridFSUpload().SetMetadata(bson.D{
		{Key: "content_type", Value: contentType},
		{Key: "uploaded_at", Value: time.Now().UTC()},
	})
	id, err := b.UploadFromStream(path, bytes.NewReader(data), opts)
	if err != nil {
		s.logger.Error("Failed to upload object",
			zap.String("path", path),
			zap.Error(err))
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return fmt.Sprintf("gridfs://%s/%s", s.bucketName, id.Hex()), nil
}

func (s *GridFSStore) Get(ctx context.Context, path string) ([]byte, string, error) {
	b, err := s.bucket(ctx)
	if err != nil {
		return nil, "", err
	}
	files, err := s.find(ctx, b, path, 1)
	if err != nil {
		return nil, "", err
	}
	if len(files) == 0 {
		return nil, "", ErrNotFound
	}

	var buf bytes.Buffer
	buf.Grow(int(files[0].Length))
	if _, err := b.DownloadToStream(files[0].ID, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to download %s: %w", path, err)
	}
	return buf.Bytes(), files[0].Metadata.ContentType, nil
}

func (s *GridFSStore) Delete(ctx context.Context, path string) error {
	b, err := s.bucket(ctx)
	if err != nil {
		return err
	}
	files, err := s.find(ctx, b, path, 0)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := b.Delete(f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}
	return nil
}

func (s *GridFSStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// find returns revisions of path, newest first. limit 0 means all.
func (s *GridFSStore) find(ctx context.Context, b *gridfs.Bucket, path string, limit int32) ([]gridFSFile, error) {
	opts := options.GridFSFind().SetSort(bson.D{{Key: "uploadDate", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := b.Find(bson.M{"filename": path}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", path, err)
	}
	defer cursor.Close(ctx)

	var files []gridFSFile
	if err := cursor.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return files, nil
}
