package service

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/apex/log"

	"github.com/moodremix/api/internal/client"
)

// OutputPublisher mirrors finished outputs to object storage. A nil store
// turns it into a no-op.
type OutputPublisher struct {
	store  client.ObjectStore
	prefix string
}

func NewOutputPublisher(store client.ObjectStore, prefix string) *OutputPublisher {
	return &OutputPublisher{store: store, prefix: prefix}
}

func (p *OutputPublisher) Key(file string) string {
	return path.Join(p.prefix, filepath.Base(file))
}

// Publish uploads file and returns its URL. Upload failures are logged and
// yield an empty URL; the local file stays downloadable either way.
func (p *OutputPublisher) Publish(ctx context.Context, file string) string {
	if p == nil || p.store == nil {
		return ""
	}
	logger := log.WithField("file", file)

	f, err := os.Open(file)
	if err != nil {
		logger.WithError(err).Warn("failed to open output for upload")
		return ""
	}
	defer f.Close()

	url, err := p.store.Upload(ctx, p.Key(file), f, "audio/wav")
	if err != nil {
		logger.WithError(err).Warn("failed to upload output")
		return ""
	}
	logger.WithField("url", url).Info("output uploaded")
	return url
}
