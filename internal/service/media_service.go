package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-community-api/internal/dto"
	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/observability"
	"github.com/noah-isme/gema-community-api/internal/repository"
)

// Upload purposes.
const (
	MediaPurposeAvatar = "avatar"
	MediaPurposePost   = "post"
)

var (
	// ErrUploadTooLarge indicates the payload exceeded the configured limit.
	ErrUploadTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrUploadTypeNotAllowed indicates the file is not an image.
	ErrUploadTypeNotAllowed = errors.New("file type not allowed")
	// ErrUploadPurpose indicates an unknown upload purpose.
	ErrUploadPurpose = errors.New("unknown upload purpose")
)

// FileStorage abstracts upload destinations.
type FileStorage interface {
	Upload(ctx context.Context, purpose, name string, reader io.Reader) (string, error)
}

// MediaService validates and stores avatar and post images.
type MediaService interface {
	Upload(ctx context.Context, userID, purpose string, file *multipart.FileHeader) (dto.MediaUploadResponse, error)
}

type mediaService struct {
	storage FileStorage
	repo    repository.MediaRepository
	logger  zerolog.Logger
	maxSize int64
	tracer  trace.Tracer
}

// NewMediaService constructs a media service.
func NewMediaService(storage FileStorage, repo repository.MediaRepository, maxSizeMB int, logger zerolog.Logger) MediaService {
	if maxSizeMB <= 0 {
		maxSizeMB = 5
	}
	return &mediaService{
		storage: storage,
		repo:    repo,
		logger:  logger.With().Str("component", "media_service").Logger(),
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		tracer:  otel.Tracer("github.com/noah-isme/gema-community-api/internal/service/media"),
	}
}

func (s *mediaService) Upload(ctx context.Context, userID, purpose string, file *multipart.FileHeader) (dto.MediaUploadResponse, error) {
	ctx, span := s.tracer.Start(ctx, "media.upload", trace.WithAttributes(
		attribute.String("media.purpose", purpose),
		attribute.Int64("media.max_bytes", s.maxSize),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		observability.UploadLatency().Observe(time.Since(start).Seconds())
	}()

	if purpose != MediaPurposeAvatar && purpose != MediaPurposePost {
		span.SetStatus(codes.Error, "invalid purpose")
		return dto.MediaUploadResponse{}, ErrUploadPurpose
	}
	if file == nil {
		err := errors.New("file is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation failed")
		return dto.MediaUploadResponse{}, err
	}
	span.SetAttributes(attribute.String("media.original_name", strings.TrimSpace(file.Filename)))

	if file.Size > s.maxSize {
		observability.UploadRejected().WithLabelValues("size").Inc()
		span.SetStatus(codes.Error, "payload too large")
		return dto.MediaUploadResponse{}, ErrUploadTooLarge
	}

	handle, err := file.Open()
	if err != nil {
		span.RecordError(err)
		return dto.MediaUploadResponse{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, s.maxSize+1)); err != nil {
		span.RecordError(err)
		return dto.MediaUploadResponse{}, err
	}
	if int64(buf.Len()) > s.maxSize {
		observability.UploadRejected().WithLabelValues("size").Inc()
		span.SetStatus(codes.Error, "payload too large")
		return dto.MediaUploadResponse{}, ErrUploadTooLarge
	}

	detected := mimetype.Detect(buf.Bytes())
	mimeType := strings.ToLower(detected.String())
	span.SetAttributes(attribute.String("media.detected_mime", mimeType))
	if !strings.HasPrefix(mimeType, "image/") {
		observability.UploadRejected().WithLabelValues("type").Inc()
		span.SetStatus(codes.Error, "type not allowed")
		return dto.MediaUploadResponse{}, ErrUploadTypeNotAllowed
	}

	checksum := sha256.Sum256(buf.Bytes())
	name := sanitizeFileName(file.Filename, detected.Extension())

	url, err := s.storage.Upload(ctx, purpose, name, bytes.NewReader(buf.Bytes()))
	if err != nil {
		observability.UploadRejected().WithLabelValues("storage").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failed")
		return dto.MediaUploadResponse{}, err
	}

	asset := models.MediaAsset{
		UserID:    userID,
		Purpose:   purpose,
		FileName:  name,
		URL:       url,
		MimeType:  mimeType,
		SizeBytes: int64(buf.Len()),
		Checksum:  hex.EncodeToString(checksum[:]),
	}
	if err := s.repo.Create(ctx, &asset); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		return dto.MediaUploadResponse{}, err
	}

	observability.UploadRequests().WithLabelValues(purpose).Inc()
	span.SetStatus(codes.Ok, "stored")

	return dto.MediaUploadResponse{
		ID:        asset.ID,
		Purpose:   asset.Purpose,
		URL:       asset.URL,
		SizeBytes: asset.SizeBytes,
		MimeType:  asset.MimeType,
		Checksum:  asset.Checksum,
		FileName:  asset.FileName,
	}, nil
}

func sanitizeFileName(name, detectedExt string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, base)
	base = strings.Trim(base, "-")
	if base == "" {
		base = fmt.Sprintf("image-%d", time.Now().Unix())
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = detectedExt
	}
	return base + ext
}
