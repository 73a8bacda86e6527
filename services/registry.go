package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/filededup/models"
)

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("file not found")
	// ErrDuplicateHash is returned when a record with the same content hash already exists.
	ErrDuplicateHash = errors.New("duplicate file hash")
)

const unknownUploader = "Unknown"

// Downloader is one entry of a file's download history.
type Downloader struct {
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

// DuplicateInfo describes an existing record that matched a duplicate lookup.
type DuplicateInfo struct {
	FileName    string       `json:"file_name"`
	FilePath    string       `json:"file_path"`
	Description *string      `json:"description"`
	SourceURL   *string      `json:"source_url"`
	UploadedBy  string       `json:"uploaded_by"`
	Users       []Downloader `json:"users"`
}

// FileSummary is the listing view of a record.
type FileSummary struct {
	FileName   string `json:"file_name"`
	FilePath   string `json:"file_path"`
	UploadedBy string `json:"uploaded_by"`
}

// Registry stores file records and the download log.
type Registry struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRegistry creates a Registry over db.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// FindDuplicate looks for an existing record by content hash, then by source URL.
// Download history is always joined on the matched record's file_hash.
// It returns nil, nil when nothing matches.
func (r *Registry) FindDuplicate(ctx context.Context, fileHash, sourceURL string) (*DuplicateInfo, error) {
	var rec models.FileRecord
	found := false

	if fileHash != "" {
		ok, err := r.first(ctx, &rec, "file_hash = ?", fileHash)
		if err != nil {
			return nil, err
		}
		found = ok
	}
	if !found && sourceURL != "" {
		ok, err := r.first(ctx, &rec, "source_url = ?", sourceURL)
		if err != nil {
			return nil, err
		}
		found = ok
	}
	if !found {
		return nil, nil
	}

	users, err := r.Downloaders(ctx, rec.FileHash)
	if err != nil {
		return nil, err
	}
	return &DuplicateInfo{
		FileName:    rec.FileName,
		FilePath:    rec.FilePath,
		Description: rec.Description,
		SourceURL:   rec.SourceURL,
		UploadedBy:  UploaderOrUnknown(rec.UploadedBy),
		Users:       users,
	}, nil
}

// FindByName returns the first record whose file_name equals name.
func (r *Registry) FindByName(ctx context.Context, name string) (*models.FileRecord, error) {
	var rec models.FileRecord
	ok, err := r.first(ctx, &rec, "file_name = ?", name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// AddFile inserts rec. A hash already present yields ErrDuplicateHash.
func (r *Registry) AddFile(ctx context.Context, rec *models.FileRecord) error {
	err := r.db.WithContext(ctx).Create(rec).Error
	if isUniqueViolation(err) {
		return ErrDuplicateHash
	}
	if err != nil {
		return fmt.Errorf("insert file record: %w", err)
	}
	return nil
}

// LogDownload records that userID downloaded rec. It reports false when the
// user was already logged for this content, in which case nothing is written.
func (r *Registry) LogDownload(ctx context.Context, rec *models.FileRecord, userID string) (bool, error) {
	entry := models.DownloadLog{
		FileName:  rec.FileName,
		FileHash:  rec.FileHash,
		UserID:    userID,
		Timestamp: r.now(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&entry)
	if res.Error != nil {
		return false, fmt.Errorf("insert download log: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// HasDownloaded reports whether userID has a log entry for the content hash.
func (r *Registry) HasDownloaded(ctx context.Context, fileHash, userID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.DownloadLog{}).
		Where("file_hash = ? AND user_id = ?", fileHash, userID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("count download logs: %w", err)
	}
	return n > 0, nil
}

// Downloaders returns every logged download of the content hash, oldest first.
func (r *Registry) Downloaders(ctx context.Context, fileHash string) ([]Downloader, error) {
	var logs []models.DownloadLog
	err := r.db.WithContext(ctx).
		Where("file_hash = ?", fileHash).
		Order("timestamp asc").Order("id asc").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("query download logs: %w", err)
	}
	users := make([]Downloader, 0, len(logs))
	for _, l := range logs {
		users = append(users, Downloader{UserID: l.UserID, Timestamp: l.Timestamp.UTC().Format(time.RFC3339Nano)})
	}
	return users, nil
}

// ListFiles returns every record, unfiltered and unpaginated.
func (r *Registry) ListFiles(ctx context.Context) ([]FileSummary, error) {
	var recs []models.FileRecord
	if err := r.db.WithContext(ctx).Order("id asc").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query file records: %w", err)
	}
	files := make([]FileSummary, 0, len(recs))
	for _, rec := range recs {
		files = append(files, FileSummary{
			FileName:   rec.FileName,
			FilePath:   rec.FilePath,
			UploadedBy: UploaderOrUnknown(rec.UploadedBy),
		})
	}
	return files, nil
}

// UploaderOrUnknown renders an empty uploader as "Unknown".
func UploaderOrUnknown(uploadedBy string) string {
	if uploadedBy == "" {
		return unknownUploader
	}
	return uploadedBy
}

// isUniqueViolation also matches raw driver messages in case the dialector does not translate errors.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "Duplicate entry")
}

func (r *Registry) first(ctx context.Context, dst *models.FileRecord, query string, args ...interface{}) (bool, error) {
	err := r.db.WithContext(ctx).Where(query, args...).Order("id asc").First(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query file record: %w", err)
	}
	return true, nil
}
