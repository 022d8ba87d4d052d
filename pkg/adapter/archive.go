package adapter

import (
	"context"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// Archive stores the raw fetched page body behind each detected change,
// so the full page at detection time can be inspected later.
type Archive interface {
	SaveSnapshot(ctx context.Context, key string, body []byte) error
}

// gcsArchive implements Archive on Cloud Storage.
type gcsArchive struct {
	bucketName string
	client     *storage.Client
}

// NewArchive creates a Cloud Storage snapshot archive.
func NewArchive(ctx context.Context, bucketName string) (Archive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &gcsArchive{
		bucketName: bucketName,
		client:     client,
	}, nil
}

func (a *gcsArchive) SaveSnapshot(ctx context.Context, key string, body []byte) error {
	obj := a.client.Bucket(a.bucketName).Object("snapshots/" + key + ".html")
	w := obj.NewWriter(ctx)
	w.ContentType = "text/html; charset=utf-8"

	if _, err := w.Write(body); err != nil {
		w.Close()
		return goerr.Wrap(err, "failed to write snapshot", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to finalize snapshot", goerr.V("key", key))
	}
	return nil
}
