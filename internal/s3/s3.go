package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Capitan-Parrot/waste-sorter/internal/models"
)

type Client struct {
	client        *minio.Client
	resultsBucket string
}

func NewMinioClient(endpoint, accessKey, secretKey, resultsBucket string, secure bool) (*Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Client{client: client, resultsBucket: resultsBucket}, nil
}

// ParseLocation splits http://host/bucket/prefix into bucket and prefix.
func ParseLocation(location string) (bucket, prefix string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", err
	}

	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("no bucket in %q", location)
	}
	if len(parts) == 1 {
		return parts[0], "", nil
	}
	return parts[0], parts[1], nil
}

// ListFrameKeys returns the object keys under prefix sorted by name.
func (c *Client) ListFrameKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	keys, err := c.listKeys(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *Client) listKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for object := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, object.Err)
		}
		// Пропускаем саму папку (если она есть в списке)
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

// GetFrame downloads one object.
func (c *Client) GetFrame(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj); err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, key, err)
	}
	return buf.Bytes(), nil
}

// SaveDetectionResults сохраняет результаты детекции в бакет результатов
// в папку с именем сессии под именем файла - индексом кадра
func (c *Client) SaveDetectionResults(ctx context.Context, sessionID string, frameIndex int, detections []models.Detection) error {
	if detections == nil {
		detections = []models.Detection{}
	}
	jsonData, err := json.Marshal(detections)
	if err != nil {
		return fmt.Errorf("failed to marshal detections: %w", err)
	}

	_, err = c.client.PutObject(
		ctx,
		c.resultsBucket,
		resultKey(sessionID, frameIndex),
		bytes.NewReader(jsonData),
		int64(len(jsonData)),
		minio.PutObjectOptions{
			ContentType: "application/json",
		},
	)
	if err != nil {
		return fmt.Errorf("failed to save detections to S3: %w", err)
	}

	return nil
}

// CountResults возвращает количество сохранённых результатов сессии.
// It is the resume offset for a replayed bucket source.
func (c *Client) CountResults(ctx context.Context, sessionID string) (int, error) {
	keys, err := c.listKeys(ctx, c.resultsBucket, sessionID+"/")
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func resultKey(sessionID string, frameIndex int) string {
	return fmt.Sprintf("%s/%d.json", sessionID, frameIndex)
}
