package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockForTests returns a Store backed by an in-memory fake transport. It
// implements just the S3 calls the Store interface issues, so tests run
// without network access or credentials.
func NewMockForTests() *Store {
	rt := &mockTransport{objects: make(map[string]mockObject)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return &Store{client: client, bucket: "mock-bucket", presign: s3.NewPresignClient(client)}
}

type mockObject struct {
	body        []byte
	contentType string
}

// mockTransport fakes the bucket. Path-style requests put the key after the
// bucket segment; ListObjectsV2 pages one key at a time to exercise the
// continuation loop.
type mockTransport struct {
	mu      sync.Mutex
	objects map[string]mockObject
}

func (m *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ""
	if parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2); len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return m.list(req), nil
	}
	switch req.Method {
	case http.MethodHead:
		return m.head(key), nil
	case http.MethodPut:
		return m.put(req, key), nil
	case http.MethodGet:
		return m.get(key), nil
	case http.MethodDelete:
		delete(m.objects, key)
		return plainResponse(http.StatusNoContent, nil, http.Header{}), nil
	}
	return plainResponse(http.StatusNotImplemented, nil, http.Header{}), nil
}

func (m *mockTransport) list(req *http.Request) *http.Response {
	prefix := req.URL.Query().Get("prefix")
	after := req.URL.Query().Get("continuation-token")
	var keys []string
	for k := range m.objects {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if after != "" {
		for i, k := range keys {
			if k == after {
				start = i + 1
				break
			}
		}
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult>`)
	end := len(keys)
	if start < len(keys)-1 {
		// One key per page forces the caller through the token path.
		end = start + 1
		fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%s</NextContinuationToken>", keys[start])
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range keys[start:end] {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(m.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return plainResponse(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func (m *mockTransport) head(key string) *http.Response {
	obj, ok := m.objects[key]
	if !ok {
		return plainResponse(http.StatusNotFound, nil, http.Header{})
	}
	return plainResponse(http.StatusOK, nil, http.Header{
		"Content-Length": {strconv.Itoa(len(obj.body))},
		"Content-Type":   {obj.contentType},
		"ETag":           {`"mock-etag"`},
		"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
	})
}

func (m *mockTransport) get(key string) *http.Response {
	obj, ok := m.objects[key]
	if !ok {
		body := []byte(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>mock miss</Message></Error>`)
		return plainResponse(http.StatusNotFound, body, http.Header{"Content-Type": {"application/xml"}})
	}
	return plainResponse(http.StatusOK, obj.body, http.Header{
		"Content-Length": {strconv.Itoa(len(obj.body))},
		"Content-Type":   {obj.contentType},
		"ETag":           {`"mock-etag"`},
		"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
	})
}

func (m *mockTransport) put(req *http.Request, key string) *http.Response {
	body, _ := io.ReadAll(req.Body)
	if decoded, ok := decodeAWSChunked(body); ok {
		body = decoded
	}
	if _, exists := m.objects[key]; !exists {
		m.objects[key] = mockObject{body: body, contentType: req.Header.Get("Content-Type")}
	}
	return plainResponse(http.StatusOK, nil, http.Header{"ETag": {`"mock-etag"`}})
}

func plainResponse(status int, body []byte, header http.Header) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: header}
}

// decodeAWSChunked unwraps a single-chunk aws-chunked payload
// (<hex-size>\r\n<data>\r\n0\r\n[trailers]) as produced by signed uploads.
func decodeAWSChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 || parts[2] != "0" {
		return nil, false
	}
	size, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || int64(len(parts[1])) != size {
		return nil, false
	}
	return []byte(parts[1]), true
}
