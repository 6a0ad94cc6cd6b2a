package local_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr/fake"
	"github.com/slok/ocrtrack/internal/ocr/local"
	"github.com/slok/ocrtrack/internal/progress"
	"github.com/slok/ocrtrack/internal/progress/memory"
)

var now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newBackend(t *testing.T, hub *memory.Hub, engineCfg fake.EngineConfig) *local.Backend {
	t.Helper()

	engine, err := fake.NewEngine(engineCfg)
	require.NoError(t, err)

	b, err := local.NewBackend(local.BackendConfig{
		Engine: engine,
		Hub:    hub,
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)
	return b
}

// receiveProgress returns the progress events received by conn until a terminal one.
func receiveProgress(t *testing.T, conn progress.Conn) []model.ProgressEvent {
	t.Helper()

	evs := []model.ProgressEvent{}
	for {
		data, err := conn.Receive()
		require.NoError(t, err)
		ev, err := progress.DecodeEvent(data)
		require.NoError(t, err)

		pev := ev.(progress.ProgressEvent).ProgressEvent
		pev.Timestamp = time.Time{}
		evs = append(evs, pev)
		if pev.Status.IsTerminal() {
			return evs
		}
	}
}

func TestBackendProcess(t *testing.T) {
	tests := map[string]struct {
		engineCfg fake.EngineConfig
		expPages  int
		expErrMsg string
		expEvents []model.ProgressEvent
	}{
		"A single page document should report start and completion.": {
			engineCfg: fake.EngineConfig{Pages: 1},
			expPages:  1,
			expEvents: []model.ProgressEvent{
				{Progress: 0, Status: model.RemoteStatusProcessing},
				{Progress: 0, Status: model.RemoteStatusProcessing},
				{Progress: 100, Status: model.RemoteStatusCompleted},
			},
		},

		"A multi page document should report every page before recognizing it.": {
			engineCfg: fake.EngineConfig{Pages: 3},
			expPages:  3,
			expEvents: []model.ProgressEvent{
				{Progress: 0, Status: model.RemoteStatusProcessing},
				{Progress: 0, Status: model.RemoteStatusProcessing},
				{Progress: 30, Status: model.RemoteStatusProcessing},
				{Progress: 60, Status: model.RemoteStatusProcessing},
				{Progress: 100, Status: model.RemoteStatusCompleted},
			},
		},

		"A four page document should round down the page progress.": {
			engineCfg: fake.EngineConfig{Pages: 4},
			expPages:  4,
			expEvents: []model.ProgressEvent{
				{Progress: 0, Status: model.RemoteStatusProcessing},
				{Progress: 0, Status: model.RemoteStatusProcessing},
				{Progress: 22, Status: model.RemoteStatusProcessing},
				{Progress: 45, Status: model.RemoteStatusProcessing},
				{Progress: 67, Status: model.RemoteStatusProcessing},
				{Progress: 100, Status: model.RemoteStatusCompleted},
			},
		},

		"A failed recognition should report the failure.": {
			engineCfg: fake.EngineConfig{
				Pages: 2,
				FailPage: func(_ local.Document, page int) error {
					if page == 2 {
						return errors.New("blurry page")
					}
					return nil
				},
			},
			expErrMsg: "page 2: blurry page",
			expEvents: []model.ProgressEvent{
				{Progress: 0, Status: model.RemoteStatusProcessing},
				{Progress: 0, Status: model.RemoteStatusProcessing},
				{Progress: 45, Status: model.RemoteStatusProcessing},
				{Progress: 0, Status: model.RemoteStatusFailed},
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)
			ctx := context.Background()

			hub := memory.NewHub(nil)
			b := newBackend(t, hub, test.engineCfg)

			id, err := b.Upload(ctx, model.NewBytesSourceFile("invoice.pdf", []byte("%PDF-1.7")))
			require.NoError(err)

			conn, err := hub.Dial(ctx, id, "")
			require.NoError(err)
			defer conn.Close()

			res, err := b.Process(ctx, id)
			if test.expErrMsg != "" {
				var perr *model.ProcessError
				require.ErrorAs(err, &perr)
				assert.Equal(test.expErrMsg, perr.Error())
			} else {
				require.NoError(err)
				assert.Equal(id, res.TaskID)
				assert.Equal(model.RemoteStatusCompleted, res.Status)
				assert.Len(res.Pages, test.expPages)
				assert.Equal("invoice.pdf page 1", res.Pages[0].ExtractedText)
			}

			for i := range test.expEvents {
				test.expEvents[i].TaskID = id
			}
			assert.Equal(test.expEvents, receiveProgress(t, conn))
		})
	}
}

func TestBackendUploadErrors(t *testing.T) {
	b := newBackend(t, nil, fake.EngineConfig{})

	_, err := b.Upload(context.Background(), model.NewBytesSourceFile("notes.txt", []byte("hello")))
	var uerr *model.UploadError
	require.ErrorAs(t, err, &uerr)
	assert.ErrorIs(t, err, model.ErrNotValid)
	assert.Contains(t, uerr.Error(), "unsupported type")

	_, err = b.Process(context.Background(), "missing")
	var perr *model.ProcessError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestBackendResultAndExport(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)
	ctx := context.Background()

	b := newBackend(t, nil, fake.EngineConfig{Pages: 2})

	id, err := b.Upload(ctx, model.NewBytesSourceFile("receipt.png", []byte("png")))
	require.NoError(err)

	_, err = b.Result(ctx, id)
	assert.ErrorIs(err, model.ErrNotFound)

	_, err = b.Process(ctx, id)
	require.NoError(err)

	res, err := b.Result(ctx, id)
	require.NoError(err)
	assert.Equal("receipt.png page 1\n\nreceipt.png page 2", res.Text())
	assert.Equal(now, res.UpdatedAt)

	exp, err := b.Export(ctx, id, model.ExportFormatCSV)
	require.NoError(err)
	assert.Equal("receipt_ocr.csv", exp.Filename)
	assert.Equal("\ufeffpage,text,document_type,confidence\n1,receipt.png page 1,document,0.9\n2,receipt.png page 2,document,0.9\n", string(exp.Data))

	exp, err = b.Export(ctx, id, model.ExportFormatJSON)
	require.NoError(err)
	assert.Equal("receipt_ocr.json", exp.Filename)
	assert.Contains(string(exp.Data), `"extracted_text": "receipt.png page 2"`)

	_, err = b.Export(ctx, id, model.ExportFormatXLSX)
	assert.ErrorIs(err, model.ErrNotValid)
}

func TestBackendProcessCancelled(t *testing.T) {
	b := newBackend(t, nil, fake.EngineConfig{Pages: 3, PageDelay: time.Hour})

	id, err := b.Upload(context.Background(), model.NewBytesSourceFile("doc.pdf", []byte("%PDF")))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = b.Process(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
