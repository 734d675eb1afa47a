package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/realtime"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func setupCommunityDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Message{}, &models.Notification{}, &models.Relation{}, &models.Profile{}, &models.MediaAsset{}))
	return db
}

type publisherRecorder struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (p *publisherRecorder) Publish(ctx context.Context, event realtime.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *publisherRecorder) snapshot() []realtime.ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.ChangeEvent(nil), p.events...)
}

func (p *publisherRecorder) count(record realtime.RecordKind, kind realtime.ChangeKind) int {
	total := 0
	for _, event := range p.snapshot() {
		if event.Record == record && event.Kind == kind {
			total++
		}
	}
	return total
}

func buildFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {"form-data; name=\"file\"; filename=\"" + filename + "\""},
		"Content-Type":        {"application/octet-stream"},
	})
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(int64(len(content) + 1024))
	require.NoError(t, err)
	files := form.File["file"]
	require.Len(t, files, 1)
	return files[0]
}

type storageStub struct {
	purpose  string
	uploaded bytes.Buffer
	err      error
}

func (s *storageStub) Upload(ctx context.Context, purpose, name string, reader io.Reader) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.purpose = purpose
	s.uploaded.Reset()
	if _, err := s.uploaded.ReadFrom(reader); err != nil {
		return "", err
	}
	return "https://cdn.example.com/" + purpose + "/" + name, nil
}
