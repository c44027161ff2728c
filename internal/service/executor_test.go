package service

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/encnetwork/doctrans/internal/document"
	"github.com/encnetwork/doctrans/internal/download"
	"github.com/encnetwork/doctrans/internal/engine"
	"github.com/encnetwork/doctrans/internal/jobs"
)

type fakeClient struct {
	err error
}

func (f *fakeClient) TranslateBatch(ctx context.Context, units []document.TranslationUnit, sourceLang, targetLang string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	ret := make(map[string]string, len(units))
	for _, unit := range units {
		ret[unit.ID] = "DE:" + unit.Text
	}
	return ret, nil
}

func bytesReader(s string) io.Reader {
	return strings.NewReader(s)
}

type testFixture struct {
	executor    *Executor
	workspace   *Workspace
	checkpoints *engine.CheckpointStore
	downloads   *download.Registry
	dataDir     string
}

func newFixture(t *testing.T, client *fakeClient) *testFixture {
	t.Helper()
	dataDir := t.TempDir()

	codecs := document.NewRegistry()
	codecs.Register(".xlsx", document.NewXLSXCodec())

	checkpoints := engine.NewCheckpointStore(dataDir)
	eng := engine.New(client, checkpoints, engine.Options{MaxRetries: 1})
	downloads, err := download.NewRegistry(context.Background(), nil)
	require.NoError(t, err)
	workspace := NewWorkspace(dataDir)

	return &testFixture{
		executor:    NewExecutor(codecs, eng, checkpoints, downloads, workspace),
		workspace:   workspace,
		checkpoints: checkpoints,
		downloads:   downloads,
		dataDir:     dataDir,
	}
}

func (f *testFixture) stageJob(t *testing.T, jobID string) *jobs.Job {
	t.Helper()
	wb := excelize.NewFile()
	require.NoError(t, wb.SetCellStr("Sheet1", "A1", "Hello"))
	require.NoError(t, wb.SetCellStr("Sheet1", "A2", "World"))

	dir := f.workspace.UploadDir(jobID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "report.xlsx")
	require.NoError(t, wb.SaveAs(path))
	require.NoError(t, wb.Close())

	return &jobs.Job{
		ID:            jobID,
		Status:        jobs.StatusProcessing,
		CreatedAt:     time.Now(),
		SourceLang:    "en",
		TargetLang:    "de",
		OriginalFiles: []string{"report.xlsx"},
		FilePaths:     map[string]string{"report.xlsx": path},
	}
}

func TestExecute_TranslatesBundlesAndIssuesToken(t *testing.T) {
	fixture := newFixture(t, &fakeClient{})
	job := fixture.stageJob(t, "job1")

	outcome, err := fixture.executor.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, []string{"translated_report.xlsx"}, outcome.TranslatedFiles)
	assert.Equal(t, 0, outcome.FailedUnits)

	// translated workbook carries the provider output
	translated := filepath.Join(fixture.workspace.OutputDir("job1"), "translated_report.xlsx")
	wb, err := excelize.OpenFile(translated)
	require.NoError(t, err)
	defer wb.Close()
	got, err := wb.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	assert.Equal(t, "DE:Hello", got)

	// the artifact is a zip holding the translated file
	require.NotEmpty(t, outcome.Token.Token)
	token, err := fixture.downloads.Resolve(context.Background(), outcome.Token.Token)
	require.NoError(t, err)
	reader, err := zip.OpenReader(token.ArtifactPath)
	require.NoError(t, err)
	defer reader.Close()
	require.Len(t, reader.File, 1)
	assert.Equal(t, "translated_report.xlsx", reader.File[0].Name)

	// checkpoints are released once the job is done
	saved, err := fixture.checkpoints.Load("job1", "report.xlsx")
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestExecute_MultipleFiles(t *testing.T) {
	fixture := newFixture(t, &fakeClient{})
	jobID := "job1"

	dir := fixture.workspace.UploadDir(jobID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	names := []string{"q1.xlsx", "q2.xlsx"}
	paths := make(map[string]string, len(names))
	for _, name := range names {
		wb := excelize.NewFile()
		require.NoError(t, wb.SetCellStr("Sheet1", "A1", "Revenue "+name))
		path := filepath.Join(dir, name)
		require.NoError(t, wb.SaveAs(path))
		require.NoError(t, wb.Close())
		paths[name] = path
	}

	job := &jobs.Job{
		ID:            jobID,
		Status:        jobs.StatusProcessing,
		SourceLang:    "en",
		TargetLang:    "de",
		OriginalFiles: names,
		FilePaths:     paths,
	}

	outcome, err := fixture.executor.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, []string{"translated_q1.xlsx", "translated_q2.xlsx"}, outcome.TranslatedFiles)

	token, err := fixture.downloads.Resolve(context.Background(), outcome.Token.Token)
	require.NoError(t, err)
	reader, err := zip.OpenReader(token.ArtifactPath)
	require.NoError(t, err)
	defer reader.Close()
	assert.Len(t, reader.File, 2)
}

func TestExecute_ProviderFailureKeepsOriginalsAndCompletes(t *testing.T) {
	fixture := newFixture(t, &fakeClient{err: errors.New("provider down")})
	job := fixture.stageJob(t, "job1")

	outcome, err := fixture.executor.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.FailedUnits)

	translated := filepath.Join(fixture.workspace.OutputDir("job1"), "translated_report.xlsx")
	wb, err := excelize.OpenFile(translated)
	require.NoError(t, err)
	defer wb.Close()
	got, err := wb.GetCellValue("Sheet1", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", got)
}

func TestExecute_MissingFilePathFailsJob(t *testing.T) {
	fixture := newFixture(t, &fakeClient{})
	job := &jobs.Job{
		ID:            "job1",
		OriginalFiles: []string{"gone.xlsx"},
		FilePaths:     map[string]string{},
		TargetLang:    "de",
	}

	_, err := fixture.executor.Execute(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone.xlsx")
}

func TestExecute_UnsupportedFormatFailsJob(t *testing.T) {
	fixture := newFixture(t, &fakeClient{})
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("text"), 0o644))

	job := &jobs.Job{
		ID:            "job1",
		OriginalFiles: []string{"notes.txt"},
		FilePaths:     map[string]string{"notes.txt": path},
		TargetLang:    "de",
	}

	_, err := fixture.executor.Execute(context.Background(), job)
	require.ErrorIs(t, err, document.ErrUnsupportedFormat)
}

func TestExecute_CancelledContext(t *testing.T) {
	fixture := newFixture(t, &fakeClient{})
	job := fixture.stageJob(t, "job1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fixture.executor.Execute(ctx, job)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWorkspace_SaveUploadSanitizesNames(t *testing.T) {
	workspace := NewWorkspace(t.TempDir())

	path, err := workspace.SaveUpload("job1", "../../etc/passwd", bytesReader("attack"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workspace.UploadDir("job1"), "passwd"), path)

	_, err = workspace.SaveUpload("job1", "..", bytesReader("x"))
	require.Error(t, err)
}

func TestWorkspace_Remove(t *testing.T) {
	workspace := NewWorkspace(t.TempDir())
	_, err := workspace.SaveUpload("job1", "a.xlsx", bytesReader("content"))
	require.NoError(t, err)

	require.NoError(t, workspace.Remove("job1"))
	_, err = os.Stat(workspace.UploadDir("job1"))
	assert.True(t, os.IsNotExist(err))
}
