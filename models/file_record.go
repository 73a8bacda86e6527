package models

import "time"

// FileRecord is the registry entry for one distinct piece of stored content.
type FileRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	FileName    string    `gorm:"size:255;index;not null" json:"file_name"`
	FilePath    string    `gorm:"size:1024;not null" json:"file_path"`
	FileHash    string    `gorm:"size:64;uniqueIndex;not null" json:"file_hash"` // hex SHA-256
	Description *string   `gorm:"type:text" json:"description"`
	SourceURL   *string   `gorm:"size:768;index" json:"source_url"`
	UploadedBy  string    `gorm:"size:128;not null" json:"uploaded_by"`
	ContentType string    `gorm:"size:128" json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// DownloadLog records that a user fetched a file. One row per (file_hash, user_id).
type DownloadLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	FileName  string    `gorm:"size:255;not null" json:"file_name"`
	FileHash  string    `gorm:"size:64;not null;uniqueIndex:idx_download_hash_user" json:"file_hash"`
	UserID    string    `gorm:"size:128;not null;uniqueIndex:idx_download_hash_user" json:"user_id"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
}

// All lists every model that must be migrated at startup.
func All() []interface{} {
	return []interface{}{&FileRecord{}, &DownloadLog{}}
}
