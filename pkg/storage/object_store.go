package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// ErrObjectNotFound is returned when a stored object does not exist
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore holds raw uploaded file bytes addressed by a path string
type ObjectStore interface {
	// Get downloads the object at the given path
	Get(path string) ([]byte, error)

	// Put uploads the object at the given path
	Put(path string, data []byte) error

	// Delete removes the object at the given path
	Delete(path string) error
}

// MemoryObjectStore implements the ObjectStore interface in memory
type MemoryObjectStore struct {
	objects map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryObjectStore creates a new in-memory object store
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		objects: make(map[string][]byte),
	}
}

// Get downloads the object at the given path
func (s *MemoryObjectStore) Get(path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[path]
	if !ok {
		return nil, ErrObjectNotFound
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put uploads the object at the given path
func (s *MemoryObjectStore) Put(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[path] = stored
	return nil
}

// Delete removes the object at the given path
func (s *MemoryObjectStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, path)
	return nil
}

// S3ObjectStoreConfig contains S3 settings
type S3ObjectStoreConfig struct {
	// Region is the AWS region
	Region string `json:"region"`

	// Bucket is the S3 bucket name
	Bucket string `json:"bucket"`

	// Endpoint is the S3 endpoint (for local development)
	Endpoint string `json:"endpoint,omitempty"`
}

// S3ObjectStore implements the ObjectStore interface on S3
type S3ObjectStore struct {
	client *s3.S3
	bucket string
}

// NewS3ObjectStore creates a new S3-backed object store
func NewS3ObjectStore(config S3ObjectStoreConfig) (*S3ObjectStore, error) {
	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3ObjectStore{
		client: s3.New(sess),
		bucket: config.Bucket,
	}, nil
}

// Get downloads the object at the given path
func (s *S3ObjectStore) Get(path string) ([]byte, error) {
	output, err := s.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	return data, nil
}

// Put uploads the object at the given path
func (s *S3ObjectStore) Put(path string, data []byte) error {
	_, err := s.client.PutObject(&s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}

	return nil
}

// Delete removes the object at the given path
func (s *S3ObjectStore) Delete(path string) error {
	_, err := s.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}
