package dataset_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"textcat-backend/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	buckets map[string]bool
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: map[string]bool{}, objects: map[string][]byte{}}
}

func (f *fakeStore) CreateBucket(ctx context.Context, bucket string) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeStore) UploadFile(ctx context.Context, localPath, bucket, key string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	f.objects[bucket+"/"+key] = data
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

func (f *fakeStore) UploadObject(ctx context.Context, bucket, key string, data io.Reader) (string, error) {
	content, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	f.objects[bucket+"/"+key] = content
	return fmt.Sprintf("s3://%s/%s", bucket, key), nil
}

func (f *fakeStore) DownloadFile(ctx context.Context, bucket, key, localPath string) error {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return fmt.Errorf("no such object %s/%s", bucket, key)
	}
	return os.WriteFile(localPath, data, 0644)
}

func corpusCSV(t *testing.T, rows int) string {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for i := 0; i < rows; i++ {
		require.NoError(t, w.Write([]string{
			fmt.Sprintf("%d", i%14+1),
			fmt.Sprintf("Title %d", i),
			fmt.Sprintf("abstract, with comma %d", i),
		}))
	}
	w.Flush()
	require.NoError(t, w.Error())
	return buf.String()
}

func writeCorpusFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestStageSplitsAndUploads(t *testing.T) {
	store := newFakeStore()
	stager := dataset.NewStager(store)

	corpus := writeCorpusFile(t, corpusCSV(t, 20))
	staged, err := stager.Stage(context.Background(), "pipeline-bucket", "textcat", corpus, nil)
	require.NoError(t, err)

	assert.True(t, store.buckets["pipeline-bucket"])
	assert.Equal(t, 16, staged.TrainRows)
	assert.Equal(t, 2, staged.ValidationRows)
	assert.Equal(t, 2, staged.BatchRows)
	assert.Equal(t, "s3://pipeline-bucket/textcat/input", staged.InputPrefix)
	assert.Equal(t, "s3://pipeline-bucket/textcat/input/train/train.csv", staged.TrainPath)

	train, err := csv.NewReader(bytes.NewReader(store.objects["pipeline-bucket/textcat/input/train/train.csv"])).ReadAll()
	require.NoError(t, err)
	assert.Len(t, train, 16)
	assert.Equal(t, []string{"1", "Title 0", "abstract, with comma 0"}, train[0])

	validation, err := csv.NewReader(bytes.NewReader(store.objects["pipeline-bucket/textcat/input/validation/validation.csv"])).ReadAll()
	require.NoError(t, err)
	assert.Len(t, validation, 2)

	batch, err := csv.NewReader(bytes.NewReader(store.objects["pipeline-bucket/textcat/input/batch/batch_input.csv"])).ReadAll()
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, []string{"abstract, with comma 18"}, batch[0])
	assert.Equal(t, []string{"abstract, with comma 19"}, batch[1])

	script := store.objects["pipeline-bucket/textcat/script/"+dataset.ScriptName]
	require.NotEmpty(t, script)
	assert.Contains(t, string(script), "getResolvedOptions")
	assert.Equal(t, "s3://pipeline-bucket/textcat/script/"+dataset.ScriptName, staged.ScriptPath)
}

func TestStageFetchesOverHTTP(t *testing.T) {
	content := corpusCSV(t, 20)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, content)
	}))
	defer server.Close()

	store := newFakeStore()
	stager := dataset.NewStager(store)

	staged, err := stager.Stage(context.Background(), "bucket", "prefix", server.URL+"/corpus.csv", nil)
	require.NoError(t, err)
	assert.Equal(t, 16, staged.TrainRows)
	assert.NotEmpty(t, store.objects["bucket/prefix/input/train/train.csv"])
}

func TestStageFailsOnHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	stager := dataset.NewStager(newFakeStore())
	_, err := stager.Stage(context.Background(), "bucket", "prefix", server.URL+"/corpus.csv", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestStageRejectsTinyCorpus(t *testing.T) {
	stager := dataset.NewStager(newFakeStore())

	corpus := writeCorpusFile(t, corpusCSV(t, 3))
	_, err := stager.Stage(context.Background(), "bucket", "prefix", corpus, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough")
}

func TestStageUploadsDependencies(t *testing.T) {
	store := newFakeStore()
	stager := dataset.NewStager(store)

	dep := filepath.Join(t.TempDir(), "mleap_spark_assembly.jar")
	require.NoError(t, os.WriteFile(dep, []byte("jar-bytes"), 0644))

	corpus := writeCorpusFile(t, corpusCSV(t, 20))
	staged, err := stager.Stage(context.Background(), "bucket", "prefix", corpus, []string{dep})
	require.NoError(t, err)

	require.Len(t, staged.DependencyPaths, 1)
	assert.Equal(t, "s3://bucket/prefix/deps/mleap_spark_assembly.jar", staged.DependencyPaths[0])
	assert.Equal(t, "jar-bytes", string(store.objects["bucket/prefix/deps/mleap_spark_assembly.jar"]))
}

func TestStageFetchesFromObjectStore(t *testing.T) {
	store := newFakeStore()
	store.objects["corpora/dbpedia/corpus.csv"] = []byte(corpusCSV(t, 20))

	stager := dataset.NewStager(store)
	staged, err := stager.Stage(context.Background(), "bucket", "prefix", "s3://corpora/dbpedia/corpus.csv", nil)
	require.NoError(t, err)
	assert.Equal(t, 16, staged.TrainRows)
	assert.False(t, strings.Contains(staged.TrainPath, "corpora"))
}
