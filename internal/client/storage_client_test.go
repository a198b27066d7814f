package client

import (
	"testing"

	. "github.com/onsi/gomega"

	"github.com/moodremix/api/internal/config"
)

func TestNewStorageClientRequiresCredentials(t *testing.T) {
	g := NewWithT(t)

	_, err := NewStorageClient(&config.StorageConfig{Bucket: "remixes"})
	g.Expect(err).To(HaveOccurred())

	c, err := NewStorageClient(&config.StorageConfig{
		Endpoint:        "http://localhost:9000/",
		Region:          "auto",
		Bucket:          "remixes",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(c.GetPublicURL("outputs/mix.wav")).To(Equal("http://localhost:9000/remixes/outputs/mix.wav"))
}

func TestStoragePublicURL(t *testing.T) {
	g := NewWithT(t)

	g.Expect((&StorageClient{bucket: "b", publicURL: "https://cdn.example.com"}).GetPublicURL("k.wav")).
		To(Equal("https://cdn.example.com/k.wav"))
	g.Expect((&StorageClient{bucket: "b"}).GetPublicURL("k.wav")).
		To(Equal("https://b.s3.amazonaws.com/k.wav"))
}
