package dataset

import (
	"context"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	s3client "textcat-backend/internal/s3"

	"github.com/go-resty/resty/v2"
	"github.com/schollz/progressbar/v3"
)

//go:embed assets/feature_processing.py
var featureScript []byte

const ScriptName = "feature_processing.py"

// ObjectStore is the slice of the S3 client the stager needs.
type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error
	UploadFile(ctx context.Context, localPath, bucket, key string) (string, error)
	UploadObject(ctx context.Context, bucket, key string, data io.Reader) (string, error)
	DownloadFile(ctx context.Context, bucket, key, localPath string) error
}

// Staged records where every staged artifact landed.
type Staged struct {
	TrainPath       string
	ValidationPath  string
	BatchInputPath  string
	ScriptPath      string
	DependencyPaths []string

	// InputPrefix is the s3 URI prefix holding the raw train/validation
	// channels, handed to the feature-processing job as its input location.
	InputPrefix string

	TrainRows      int
	ValidationRows int
	BatchRows      int
}

type Stager struct {
	store ObjectStore
	http  *resty.Client
}

func NewStager(store ObjectStore) *Stager {
	return &Stager{
		store: store,
		http:  resty.New(),
	}
}

// Stage makes the raw corpus available to the rest of the workflow: it
// ensures the bucket exists, fetches the corpus, splits it into train /
// validation / batch-input files, and uploads those plus the
// feature-processing script and any dependency archives.
func (s *Stager) Stage(ctx context.Context, bucket, prefix, sourceURL string, dependencyPaths []string) (*Staged, error) {
	if err := s.store.CreateBucket(ctx, bucket); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "textcat-dataset-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	corpusPath := filepath.Join(workDir, "corpus.csv")
	if err := s.fetchCorpus(ctx, sourceURL, corpusPath); err != nil {
		return nil, err
	}

	split, err := splitCorpus(corpusPath, workDir)
	if err != nil {
		return nil, err
	}

	staged := &Staged{
		InputPrefix:    fmt.Sprintf("s3://%s/%s/input", bucket, prefix),
		TrainRows:      split.trainRows,
		ValidationRows: split.validationRows,
		BatchRows:      split.batchRows,
	}

	staged.TrainPath, err = s.store.UploadFile(ctx, split.trainPath, bucket, prefix+"/input/train/train.csv")
	if err != nil {
		return nil, err
	}
	staged.ValidationPath, err = s.store.UploadFile(ctx, split.validationPath, bucket, prefix+"/input/validation/validation.csv")
	if err != nil {
		return nil, err
	}
	staged.BatchInputPath, err = s.store.UploadFile(ctx, split.batchPath, bucket, prefix+"/input/batch/batch_input.csv")
	if err != nil {
		return nil, err
	}

	staged.ScriptPath, err = s.store.UploadObject(ctx, bucket, prefix+"/script/"+ScriptName, strings.NewReader(string(featureScript)))
	if err != nil {
		return nil, err
	}

	for _, dep := range dependencyPaths {
		depPath, err := s.store.UploadFile(ctx, dep, bucket, prefix+"/deps/"+filepath.Base(dep))
		if err != nil {
			return nil, err
		}
		staged.DependencyPaths = append(staged.DependencyPaths, depPath)
	}

	slog.Info("Staged dataset",
		"source", sourceURL,
		"trainRows", staged.TrainRows,
		"validationRows", staged.ValidationRows,
		"batchRows", staged.BatchRows,
		"inputPrefix", staged.InputPrefix)
	return staged, nil
}

func (s *Stager) fetchCorpus(ctx context.Context, sourceURL, destPath string) error {
	switch {
	case strings.HasPrefix(sourceURL, "http://"), strings.HasPrefix(sourceURL, "https://"):
		return s.fetchHTTP(ctx, sourceURL, destPath)
	case strings.HasPrefix(sourceURL, "s3://"):
		bucket, key, err := s3client.ParseS3Path(sourceURL)
		if err != nil {
			return err
		}
		return s.store.DownloadFile(ctx, bucket, key, destPath)
	default:
		return copyLocalFile(sourceURL, destPath)
	}
}

func (s *Stager) fetchHTTP(ctx context.Context, sourceURL, destPath string) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(sourceURL)
	if err != nil {
		return fmt.Errorf("failed to fetch corpus from %s: %w", sourceURL, err)
	}
	defer resp.RawBody().Close()

	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status %s fetching corpus from %s", resp.Status(), sourceURL)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create corpus file %s: %w", destPath, err)
	}
	defer out.Close()

	bar := progressbar.DefaultBytes(resp.RawResponse.ContentLength, "downloading corpus")
	if _, err := io.Copy(io.MultiWriter(out, bar), resp.RawBody()); err != nil {
		return fmt.Errorf("failed to download corpus from %s: %w", sourceURL, err)
	}
	return nil
}

func copyLocalFile(sourcePath, destPath string) error {
	in, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open corpus %s: %w", sourcePath, err)
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create corpus file %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy corpus %s: %w", sourcePath, err)
	}
	return nil
}

type splitResult struct {
	trainPath      string
	validationPath string
	batchPath      string
	trainRows      int
	validationRows int
	batchRows      int
}

// splitCorpus cuts the corpus positionally: 80% train, 10% validation, the
// remainder batch input. The corpus is assumed pre-shuffled. Batch input
// keeps only the text column since that is what the deployed model receives.
func splitCorpus(corpusPath, workDir string) (*splitResult, error) {
	in, err := os.Open(corpusPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus %s: %w", corpusPath, err)
	}
	defer in.Close()

	records, err := csv.NewReader(in).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse corpus %s: %w", corpusPath, err)
	}

	n := len(records)
	trainEnd := n * 8 / 10
	validationEnd := n * 9 / 10
	if trainEnd == 0 || validationEnd == trainEnd || validationEnd == n {
		return nil, fmt.Errorf("corpus has %d rows, not enough to split into train/validation/batch", n)
	}

	result := &splitResult{
		trainPath:      filepath.Join(workDir, "train.csv"),
		validationPath: filepath.Join(workDir, "validation.csv"),
		batchPath:      filepath.Join(workDir, "batch_input.csv"),
		trainRows:      trainEnd,
		validationRows: validationEnd - trainEnd,
		batchRows:      n - validationEnd,
	}

	if err := writeCSV(result.trainPath, records[:trainEnd]); err != nil {
		return nil, err
	}
	if err := writeCSV(result.validationPath, records[trainEnd:validationEnd]); err != nil {
		return nil, err
	}

	batchRecords := make([][]string, 0, n-validationEnd)
	for _, record := range records[validationEnd:] {
		batchRecords = append(batchRecords, []string{record[len(record)-1]})
	}
	if err := writeCSV(result.batchPath, batchRecords); err != nil {
		return nil, err
	}

	return result, nil
}

func writeCSV(path string, records [][]string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer out.Close()

	writer := csv.NewWriter(out)
	if err := writer.WriteAll(records); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	writer.Flush()
	return writer.Error()
}
