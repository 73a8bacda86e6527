package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/filededup/config"
	"github.com/cppla/filededup/middleware"
	"github.com/cppla/filededup/models"
	"github.com/cppla/filededup/services"
	"github.com/cppla/filededup/utils"
)

const (
	msgDuplicate       = "Duplicate file detected"
	defaultDescription = "File metadata"
	filesListCacheKey  = "cache:files:list"
)

// FileController serves the upload, download and listing endpoints.
type FileController struct {
	registry *services.Registry
	store    *services.DiskStore
	fetcher  *services.Fetcher
	cache    *utils.Cache
	cfg      config.AppConfig
	now      func() time.Time
}

// NewFileController creates a FileController. cache may be nil.
func NewFileController(registry *services.Registry, store *services.DiskStore, fetcher *services.Fetcher, cache *utils.Cache, cfg config.AppConfig) *FileController {
	return &FileController{
		registry: registry,
		store:    store,
		fetcher:  fetcher,
		cache:    cache,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Upload stores a multipart file unless its content is already registered.
func (f *FileController) Upload(ctx *gin.Context) {
	userID := strings.TrimSpace(ctx.PostForm("user_id"))
	header, err := ctx.FormFile("file")
	if err != nil || userID == "" {
		utils.Error(ctx, http.StatusBadRequest, "File and user ID are required")
		return
	}

	limit := f.cfg.MaxUploadBytes()
	if limit > 0 && header.Size > limit {
		utils.Error(ctx, http.StatusBadRequest, fmt.Sprintf("File exceeds the %d MB limit", f.cfg.MaxUploadMB))
		return
	}
	name, err := utils.SafeUploadName(header.Filename)
	if err != nil || services.IsTempName(name) {
		utils.Error(ctx, http.StatusBadRequest, "Invalid file name")
		return
	}
	if !utils.AllowedFile(name, f.cfg.AllowedExtensions) {
		utils.Error(ctx, http.StatusBadRequest, "File type not allowed")
		return
	}

	src, err := header.Open()
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, "Failed to read uploaded file")
		return
	}
	defer src.Close()

	saved, err := f.store.SaveTemp(src, limit)
	if errors.Is(err, services.ErrTooLarge) {
		utils.Error(ctx, http.StatusBadRequest, fmt.Sprintf("File exceeds the %d MB limit", f.cfg.MaxUploadMB))
		return
	}
	if err != nil {
		f.unexpected(ctx, "upload", err)
		return
	}

	reqCtx := ctx.Request.Context()
	dup, err := f.registry.FindDuplicate(reqCtx, saved.Hash, "")
	if err != nil {
		f.store.Discard(saved.Path)
		f.unexpected(ctx, "upload", err)
		return
	}
	if dup != nil {
		f.store.Discard(saved.Path)
		f.uploadConflict(ctx, dup, saved.Hash, userID)
		return
	}

	description := defaultDescription
	if d := utils.SanitizeText(ctx.PostForm("description")); d != "" {
		description = d
	}
	rec := &models.FileRecord{
		FileName:    name,
		FilePath:    f.store.Path(name),
		FileHash:    saved.Hash,
		Description: &description,
		UploadedBy:  userID,
		ContentType: services.DetectContentType(saved.Path),
		Size:        saved.Size,
	}
	if err := f.registry.AddFile(reqCtx, rec); err != nil {
		f.store.Discard(saved.Path)
		if errors.Is(err, services.ErrDuplicateHash) {
			// Lost the race against a concurrent upload of the same bytes
			dup, lookupErr := f.registry.FindDuplicate(reqCtx, saved.Hash, "")
			if lookupErr == nil && dup != nil {
				f.uploadConflict(ctx, dup, saved.Hash, userID)
				return
			}
		}
		f.unexpected(ctx, "upload", err)
		return
	}
	if _, err := f.store.Promote(saved.Path, name); err != nil {
		f.store.Discard(saved.Path)
		f.unexpected(ctx, "upload", err)
		return
	}

	f.recordStored("upload", rec)
	utils.Message(ctx, http.StatusOK, "File uploaded successfully", nil)
}

type downloadByNameRequest struct {
	FileName string `json:"file_name"`
	UserID   string `json:"user_id"`
}

// DownloadByName streams a stored file to a requester who has not fetched it before.
// A repeat requester gets the download history instead and no new log entry is written.
func (f *FileController) DownloadByName(ctx *gin.Context) {
	var req downloadByNameRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || req.FileName == "" || strings.TrimSpace(req.UserID) == "" {
		utils.Error(ctx, http.StatusBadRequest, "File name and user ID are required")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	reqCtx := ctx.Request.Context()

	rec, err := f.registry.FindByName(reqCtx, req.FileName)
	if errors.Is(err, services.ErrNotFound) {
		utils.Error(ctx, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		f.unexpected(ctx, "download_by_name", err)
		return
	}

	done, err := f.registry.HasDownloaded(reqCtx, rec.FileHash, userID)
	if err != nil {
		f.unexpected(ctx, "download_by_name", err)
		return
	}
	if done {
		f.alreadyDownloaded(ctx, rec)
		return
	}

	if _, err := os.Stat(rec.FilePath); err != nil {
		utils.Sugar.Warnf("file record %q points at missing content %s: %v", rec.FileName, rec.FilePath, err)
		utils.Error(ctx, http.StatusNotFound, "File content not found")
		return
	}

	inserted, err := f.registry.LogDownload(reqCtx, rec, userID)
	if err != nil {
		f.unexpected(ctx, "download_by_name", err)
		return
	}
	if !inserted {
		f.alreadyDownloaded(ctx, rec)
		return
	}

	middleware.OperationsTotal.WithLabelValues("download_by_name", "served").Inc()
	utils.Sugar.Infow("serving file", "file_name", rec.FileName, "user_id", userID)
	ctx.FileAttachment(rec.FilePath, rec.FileName)
}

type downloadFromURLRequest struct {
	FileURL string `json:"file_url"`
	UserID  string `json:"user_id"`
}

// DownloadFromURL fetches a remote file into storage unless its content or URL is already registered.
func (f *FileController) DownloadFromURL(ctx *gin.Context) {
	var req downloadFromURLRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.FileURL) == "" || strings.TrimSpace(req.UserID) == "" {
		utils.Error(ctx, http.StatusBadRequest, "Missing file URL or user ID")
		return
	}
	userID := strings.TrimSpace(req.UserID)
	fileURL := services.RewriteDriveURL(strings.TrimSpace(req.FileURL))
	reqCtx := ctx.Request.Context()

	body, err := f.fetcher.Fetch(reqCtx, fileURL)
	if err != nil {
		f.remoteFailure(ctx, err)
		return
	}
	saved, err := f.store.SaveTemp(body, f.cfg.MaxUploadBytes())
	body.Close()
	if errors.Is(err, services.ErrTooLarge) {
		utils.Error(ctx, http.StatusBadRequest, fmt.Sprintf("File exceeds the %d MB limit", f.cfg.MaxUploadMB))
		return
	}
	if err != nil {
		f.unexpected(ctx, "download_from_url", err)
		return
	}

	dup, err := f.registry.FindDuplicate(reqCtx, saved.Hash, fileURL)
	if err != nil {
		f.store.Discard(saved.Path)
		f.unexpected(ctx, "download_from_url", err)
		return
	}
	if dup != nil {
		f.store.Discard(saved.Path)
		f.urlDuplicate(ctx, dup)
		return
	}

	name := utils.GenerateUniqueFilename(fileURL, saved.Hash, f.now())
	if services.IsTempName(name) {
		name = "_" + name
	}
	description := "Downloaded from " + fileURL
	rec := &models.FileRecord{
		FileName:    name,
		FilePath:    f.store.Path(name),
		FileHash:    saved.Hash,
		Description: &description,
		SourceURL:   &fileURL,
		UploadedBy:  userID,
		ContentType: services.DetectContentType(saved.Path),
		Size:        saved.Size,
	}
	if err := f.registry.AddFile(reqCtx, rec); err != nil {
		f.store.Discard(saved.Path)
		if errors.Is(err, services.ErrDuplicateHash) {
			dup, lookupErr := f.registry.FindDuplicate(reqCtx, saved.Hash, fileURL)
			if lookupErr == nil && dup != nil {
				f.urlDuplicate(ctx, dup)
				return
			}
		}
		f.unexpected(ctx, "download_from_url", err)
		return
	}
	if _, err := f.store.Promote(saved.Path, name); err != nil {
		f.store.Discard(saved.Path)
		f.unexpected(ctx, "download_from_url", err)
		return
	}
	if _, err := f.registry.LogDownload(reqCtx, rec, userID); err != nil {
		f.unexpected(ctx, "download_from_url", err)
		return
	}

	f.recordStored("download_from_url", rec)
	utils.Message(ctx, http.StatusOK, "File downloaded and processed successfully", nil)
}

// GetFiles lists every stored file.
func (f *FileController) GetFiles(ctx *gin.Context) {
	reqCtx := ctx.Request.Context()
	var files []services.FileSummary
	if !f.cache.GetJSON(reqCtx, filesListCacheKey, &files) {
		var err error
		files, err = f.registry.ListFiles(reqCtx)
		if err != nil {
			utils.Sugar.Errorf("list files: %v", err)
			utils.Error(ctx, http.StatusInternalServerError, err.Error())
			return
		}
		f.cache.SetJSON(reqCtx, filesListCacheKey, files)
	}
	utils.Success(ctx, gin.H{"files": files})
}

func (f *FileController) uploadConflict(ctx *gin.Context, dup *services.DuplicateInfo, hash, userID string) {
	middleware.OperationsTotal.WithLabelValues("upload", "duplicate").Inc()
	utils.Sugar.Infow("duplicate upload rejected", "hash", hash, "user_id", userID, "existing_file", dup.FileName)
	utils.Message(ctx, http.StatusConflict, msgDuplicate, gin.H{"uploaded_by": dup.UploadedBy})
}

func (f *FileController) urlDuplicate(ctx *gin.Context, dup *services.DuplicateInfo) {
	middleware.OperationsTotal.WithLabelValues("download_from_url", "duplicate").Inc()
	utils.Message(ctx, http.StatusOK, msgDuplicate, gin.H{
		"existing_file": dup.FileName,
		"location":      dup.FilePath,
		"metadata":      dup.Description,
		"users":         dup.Users,
	})
}

func (f *FileController) alreadyDownloaded(ctx *gin.Context, rec *models.FileRecord) {
	users, err := f.registry.Downloaders(ctx.Request.Context(), rec.FileHash)
	if err != nil {
		f.unexpected(ctx, "download_by_name", err)
		return
	}
	middleware.OperationsTotal.WithLabelValues("download_by_name", "duplicate").Inc()
	utils.Message(ctx, http.StatusOK, msgDuplicate, gin.H{
		"uploaded_by": services.UploaderOrUnknown(rec.UploadedBy),
		"users":       users,
	})
}

func (f *FileController) recordStored(op string, rec *models.FileRecord) {
	f.cache.Invalidate(context.Background(), filesListCacheKey)
	middleware.OperationsTotal.WithLabelValues(op, "stored").Inc()
	middleware.StoredBytes.Add(float64(rec.Size))
	utils.Sugar.Infow("file stored",
		"operation", op,
		"file_name", rec.FileName,
		"hash", rec.FileHash,
		"size", rec.Size,
		"uploaded_by", rec.UploadedBy,
	)
}

// remoteFailure maps fetch errors: remote status is propagated, transport failures are 400.
func (f *FileController) remoteFailure(ctx *gin.Context, err error) {
	var statusErr *services.RemoteStatusError
	if errors.As(err, &statusErr) {
		middleware.OperationsTotal.WithLabelValues("download_from_url", "remote_error").Inc()
		code := statusErr.Code
		if code < http.StatusBadRequest {
			code = http.StatusBadGateway
		}
		utils.Error(ctx, code, statusErr.Error())
		return
	}
	var transportErr *services.RemoteTransportError
	if errors.As(err, &transportErr) {
		middleware.OperationsTotal.WithLabelValues("download_from_url", "remote_error").Inc()
		utils.Error(ctx, http.StatusBadRequest, transportErr.Error())
		return
	}
	f.unexpected(ctx, "download_from_url", err)
}

func (f *FileController) unexpected(ctx *gin.Context, op string, err error) {
	middleware.OperationsTotal.WithLabelValues(op, "error").Inc()
	utils.Sugar.Errorf("%s failed: %v", op, err)
	utils.Error(ctx, http.StatusInternalServerError, fmt.Sprintf("An unexpected error occurred: %v", err))
}
