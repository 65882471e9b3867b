package s3

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/johndauphine/sftp-csv-tap/internal/transport"
)

func TestListFilesUsesPrefixAndStripsIt(t *testing.T) {
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	fake := &fakeClient{objects: []ObjectInfo{
		{Key: "landing/exports/orders_1.csv", Size: 10, LastModified: mtime},
		{Key: "landing/exports/orders_2.csv.gz", Size: 20, LastModified: mtime},
		{Key: "landing/exports/readme.txt", Size: 1, LastModified: mtime},
		{Key: "landing/exports/sub/", Size: 0, LastModified: mtime},
	}}
	store, err := NewWithClient("bucket-a", "/landing/", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	files, err := store.ListFiles(context.Background(), "/exports", `orders_\d+\.csv`)
	if err != nil {
		t.Fatalf("ListFiles() error = %v", err)
	}
	if fake.lastListPrefix != "landing/exports/" {
		t.Fatalf("list prefix = %q", fake.lastListPrefix)
	}
	if len(files) != 2 {
		t.Fatalf("files = %+v", files)
	}
	if files[0].Path != "exports/orders_1.csv" || files[0].Size != 10 || !files[0].LastModified.Equal(mtime) {
		t.Fatalf("file[0] = %+v", files[0])
	}
}

func TestOpenJoinsPrefixAndRejectsTraversal(t *testing.T) {
	fake := &fakeClient{}
	store, err := NewWithClient("bucket-a", "landing", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}

	rc, err := store.Open(context.Background(), transport.File{Path: "exports/a.csv"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "landing/exports/a.csv" {
		t.Fatalf("key = %q", body)
	}

	if _, err := store.Open(context.Background(), transport.File{Path: "../secrets.csv"}); err == nil {
		t.Fatal("expected path traversal validation error")
	}
}

func TestShouldSkipCompressedAccessDenied(t *testing.T) {
	fake := &fakeClient{getErr: mapMinioErr(minio.ErrorResponse{Code: "AccessDenied", Message: "Access Denied."})}
	store, err := NewWithClient("bucket-a", "", fake)
	if err != nil {
		t.Fatalf("NewWithClient() error = %v", err)
	}
	skip, err := store.ShouldSkipCompressed(context.Background(), transport.File{Path: "exports/a.csv.gz"})
	if err != nil {
		t.Fatalf("ShouldSkipCompressed() error = %v", err)
	}
	if !skip {
		t.Fatal("expected access denied object to be skipped")
	}
}

func TestMapMinioErr(t *testing.T) {
	if err := mapMinioErr(minio.ErrorResponse{Code: "NoSuchKey"}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("NoSuchKey = %v", err)
	}
	if err := mapMinioErr(minio.ErrorResponse{Code: "AccessDenied"}); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("AccessDenied = %v", err)
	}
	other := errors.New("boom")
	if err := mapMinioErr(other); err != other {
		t.Fatalf("other = %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	endpoint, secure, err := parseEndpoint("https://minio.example.com", false)
	if err != nil {
		t.Fatalf("parseEndpoint() error = %v", err)
	}
	if endpoint != "minio.example.com" || !secure {
		t.Fatalf("endpoint/secure = %q/%v", endpoint, secure)
	}
	endpoint, secure, err = parseEndpoint("localhost:9000", false)
	if err != nil || endpoint != "localhost:9000" || secure {
		t.Fatalf("plain endpoint = %q/%v/%v", endpoint, secure, err)
	}
}

type fakeClient struct {
	objects        []ObjectInfo
	lastListPrefix string
	getErr         error
}

func (f *fakeClient) List(_ context.Context, _, prefix string) ([]ObjectInfo, error) {
	f.lastListPrefix = prefix
	return f.objects, nil
}

func (f *fakeClient) Get(_ context.Context, _, key string) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return io.NopCloser(strings.NewReader(key)), nil
}
