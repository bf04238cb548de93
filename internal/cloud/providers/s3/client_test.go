package s3

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescale/duopane/internal/backend"
	"github.com/rescale/duopane/internal/events"
	"github.com/rescale/duopane/internal/models"
	"github.com/rescale/duopane/internal/progress"
)

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	copies  []string
}

func newFakeBucket(keys map[string]string) *fakeBucket {
	fb := &fakeBucket{objects: map[string][]byte{}}
	for k, v := range keys {
		fb.objects[k] = []byte(v)
	}
	return fb
}

func (f *fakeBucket) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)
	seen := map[string]bool{}
	out := &s3.ListObjectsV2Output{}

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				cp := prefix + rest[:i+1]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(f.objects[k])))})
	}
	return out, nil
}

func (f *fakeBucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeBucket) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeBucket) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeBucket) CopyObject(ctx context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, aws.ToString(in.CopySource)+" -> "+aws.ToString(in.Key))
	return &s3.CopyObjectOutput{}, nil
}

func testBucket() *fakeBucket {
	return newFakeBucket(map[string]string{
		"readme.md":           "# hi",
		"docs/":               "",
		"docs/a.txt":          "aaa",
		"docs/sub/b.txt":      "bb",
		"images/cat.png":      "meow",
		"images/2024/dog.png": "woof",
	})
}

func TestListRootAndPrefix(t *testing.T) {
	c := NewWithAPI(testBucket(), "bucket", nil)
	ctx := context.Background()

	root, err := c.List(ctx, backend.RootFolderID)
	require.NoError(t, err)
	var names []string
	for _, e := range root {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"docs", "images", "readme.md"}, names)
	assert.Equal(t, "docs/", root[0].ID)
	assert.True(t, root[0].IsDir)
	require.NotNil(t, root[2].Size)
	assert.EqualValues(t, 4, *root[2].Size)

	docs, err := c.List(ctx, "docs/")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "sub", docs[0].Name)
	assert.Equal(t, "docs/sub/", docs[0].ID)
	assert.Equal(t, "a.txt", docs[1].Name)
	assert.Equal(t, "docs/a.txt", docs[1].ID)
}

func TestDownloadAndFolder(t *testing.T) {
	c := NewWithAPI(testBucket(), "bucket", nil)
	ctx := context.Background()
	dir := t.TempDir()

	msg, err := c.Download(ctx, models.Entry{Name: "readme.md", ID: "readme.md"}, dir)
	require.NoError(t, err)
	assert.Equal(t, "Downloaded readme.md", msg)
	data, _ := os.ReadFile(filepath.Join(dir, "readme.md"))
	assert.Equal(t, "# hi", string(data))

	msg, err = c.DownloadFolder(ctx, models.Entry{Name: "docs", ID: "docs/", IsDir: true}, dir)
	require.NoError(t, err)
	assert.Equal(t, "Downloaded folder 'docs' (2 files)", msg)
	data, _ = os.ReadFile(filepath.Join(dir, "docs", "sub", "b.txt"))
	assert.Equal(t, "bb", string(data))

	_, err = c.Download(ctx, models.Entry{Name: "gone.txt", ID: "gone.txt"}, dir)
	assert.Error(t, err)
}

func TestUploadTracksProgress(t *testing.T) {
	bus := events.NewEventBus(100)
	defer bus.Close()
	ch := bus.Subscribe(events.EventTransferProgress)

	fb := testBucket()
	c := NewWithAPI(fb, "bucket", bus)
	local := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(local, []byte("0123456789"), 0644))

	msg, err := c.Upload(context.Background(), local, "images/")
	require.NoError(t, err)
	assert.Equal(t, "Uploaded data.bin", msg)
	assert.Equal(t, "0123456789", string(fb.objects["images/data.bin"]))

	var last *events.TransferProgressEvent
	for len(ch) > 0 {
		last = (<-ch).(*events.TransferProgressEvent)
	}
	require.NotNil(t, last)
	assert.Equal(t, "complete", last.Status)
	assert.EqualValues(t, 10, last.Progress)
}

func TestTrackedReadSeekerResetsOnSeek(t *testing.T) {
	tracker := progress.NewTracker(nil, "ul", "abc.txt", 6, "uploading")
	rs := &trackedReadSeeker{rs: strings.NewReader("abcdef"), tracker: tracker}
	buf := make([]byte, 4)
	_, err := rs.Read(buf)
	require.NoError(t, err)
	assert.EqualValues(t, 4, rs.tracker.Done())

	_, err = rs.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 0, rs.tracker.Done())
}

func TestDeleteFolderRemovesAllKeys(t *testing.T) {
	fb := testBucket()
	c := NewWithAPI(fb, "bucket", nil)

	require.NoError(t, c.Delete(context.Background(), models.Entry{Name: "docs", ID: "docs/", IsDir: true}))
	for k := range fb.objects {
		assert.False(t, strings.HasPrefix(k, "docs/"), k)
	}
	assert.Contains(t, fb.objects, "readme.md")

	err := c.Delete(context.Background(), models.Entry{Name: "root", ID: "root", IsDir: true})
	assert.Error(t, err)
}

func TestCopyRenameMakeDir(t *testing.T) {
	fb := testBucket()
	c := NewWithAPI(fb, "bucket", nil)
	ctx := context.Background()

	require.NoError(t, c.Copy(ctx, models.Entry{Name: "a.txt", ID: "docs/a.txt"}, "a copy.txt"))
	require.Len(t, fb.copies, 1)
	assert.Equal(t, "bucket/docs%2Fa.txt -> docs/a copy.txt", fb.copies[0])

	assert.ErrorIs(t, c.Copy(ctx, models.Entry{Name: "docs", ID: "docs/", IsDir: true}, "x"), backend.ErrNotSupported)
	assert.ErrorIs(t, c.Rename(ctx, models.Entry{Name: "a.txt", ID: "docs/a.txt"}, "b.txt"), backend.ErrNotSupported)
	assert.False(t, c.Capabilities().Rename)

	require.NoError(t, c.MakeDir(ctx, "images/", "2025"))
	assert.Contains(t, fb.objects, "images/2025/")
}

func TestSplitStaticKey(t *testing.T) {
	k, s, ok := splitStaticKey("AKIA:secret")
	assert.True(t, ok)
	assert.Equal(t, "AKIA", k)
	assert.Equal(t, "secret", s)

	_, _, ok = splitStaticKey("")
	assert.False(t, ok)
	_, _, ok = splitStaticKey("nocolon")
	assert.False(t, ok)
}
