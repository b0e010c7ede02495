package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"carechat/configs"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

func TestAvatarURLIsPresignedOffline(t *testing.T) {
	v := viper.New()
	v.Set("minio.endpoint", "localhost:9000")
	v.Set("minio.access_key_id", "minio")
	v.Set("minio.secret_access_key", "minio-secret")
	v.Set("minio.use_ssl", false)
	v.Set("minio.region", "us-east-1")

	minioClient, err := NewMinioClient(&configs.Config{Viper: v})
	if err != nil {
		t.Fatalf("NewMinioClient: %v", err)
	}
	avatars := NewMinioService(minioClient, "user-profile", 15*time.Minute, zerolog.Nop())

	url, err := avatars.AvatarURL(context.Background(), "users/1.png")
	if err != nil {
		t.Fatalf("AvatarURL: %v", err)
	}
	for _, want := range []string{"http://localhost:9000/user-profile/users/1.png", "X-Amz-Expires=900", "X-Amz-Signature="} {
		if !strings.Contains(url, want) {
			t.Errorf("url %q missing %q", url, want)
		}
	}

	url, err = avatars.AvatarURL(context.Background(), "")
	if err != nil || url != "" {
		t.Errorf("empty key = (%q, %v)", url, err)
	}
}

// bucketServer answers the two calls EnsureBucket makes against an S3 endpoint.
type bucketServer struct {
	mu      sync.Mutex
	exists  bool
	methods []string
}

func (bs *bucketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.methods = append(bs.methods, r.Method)
	switch r.Method {
	case http.MethodPut:
		if bs.exists {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>BucketAlreadyOwnedByYou</Code><Message>exists</Message><BucketName>user-profile</BucketName></Error>`))
			return
		}
		bs.exists = true
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if bs.exists {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestEnsureBucketIsIdempotent(t *testing.T) {
	backend := &bucketServer{}
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	v := viper.New()
	v.Set("minio.endpoint", strings.TrimPrefix(server.URL, "http://"))
	v.Set("minio.access_key_id", "minio")
	v.Set("minio.secret_access_key", "minio-secret")
	v.Set("minio.region", "us-east-1")
	minioClient, err := NewMinioClient(&configs.Config{Viper: v})
	if err != nil {
		t.Fatalf("NewMinioClient: %v", err)
	}
	avatars := NewMinioService(minioClient, "user-profile", time.Minute, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if err := avatars.EnsureBucket(context.Background()); err != nil {
			t.Fatalf("EnsureBucket #%d: %v", i+1, err)
		}
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if got := strings.Join(backend.methods, ","); got != "PUT,PUT,HEAD" {
		t.Errorf("requests = %s, want create then create-exists-check", got)
	}
}
