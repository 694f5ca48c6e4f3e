// Package server exposes the upload and progress endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/ksuid"

	"github.com/bdougie/cutout/internal/models"
	"github.com/bdougie/cutout/internal/progress"
	"github.com/bdougie/cutout/internal/storage"
)

const (
	msgInvalidType = "Invalid file type. Only images and videos are supported."
	msgNoFile      = "No file uploaded."
	msgTooLarge    = "Uploaded file is too large."

	multipartMemory = 32 << 20

	defaultListLimit = 50
	maxListLimit     = 500
)

var ErrInvalidType = errors.New(msgInvalidType)

// Runner executes jobs and exposes their state. *pipeline.Service
// implements it.
type Runner interface {
	ProcessImage(ctx context.Context, job *models.Job) (string, error)
	ProcessVideo(ctx context.Context, job *models.Job) (string, error)
	Store() storage.Store
	Progress() *progress.Registry
}

type Config struct {
	UploadDir      string
	MaxUploadBytes int64 // 0 means unlimited
}

type Server struct {
	runner Runner
	cfg    Config
	logger *slog.Logger
}

func New(runner Runner, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{runner: runner, cfg: cfg, logger: logger}
}

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.POST("/upload", s.upload)
	r.GET("/progress", s.latestProgress)
	r.GET("/progress/:id", s.jobProgress)
	r.GET("/jobs", s.listJobs)
	r.GET("/jobs/:id", s.getJob)
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) upload(c *gin.Context) {
	if s.cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	}
	// Other parse errors surface below as a missing type or file.
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
	}

	kind, ok := models.ParseKind(c.PostForm("type"))
	if !ok {
		c.String(http.StatusBadRequest, ErrInvalidType.Error())
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.String(http.StatusBadRequest, msgNoFile)
		return
	}

	id := ksuid.New().String()
	source := filepath.Base(file.Filename)
	input := filepath.Join(s.cfg.UploadDir, id+strings.ToLower(filepath.Ext(source)))
	if err := c.SaveUploadedFile(file, input); err != nil {
		s.internalError(c, id, err)
		return
	}

	job := models.NewJob(id, kind, source, input)
	// The job outlives the request if the client goes away.
	ctx := context.WithoutCancel(c.Request.Context())

	var output string
	switch kind {
	case models.KindImage:
		output, err = s.runner.ProcessImage(ctx, job)
	case models.KindVideo:
		output, err = s.runner.ProcessVideo(ctx, job)
	}
	if err != nil {
		s.internalError(c, id, err)
		return
	}

	c.Header("X-Job-ID", id)
	c.FileAttachment(output, attachmentName(source, output))
}

func (s *Server) latestProgress(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"progress": s.runner.Progress().Latest()})
}

func (s *Server) jobProgress(c *gin.Context) {
	id := c.Param("id")
	tracker, tracked := s.runner.Progress().Get(id)

	job, err := s.runner.Store().Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound) && !tracked:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		s.internalError(c, id, err)
		return
	}

	status := models.StatusRunning
	pct := 0
	if job != nil {
		status = job.Status
		if job.Status == models.StatusCompleted {
			pct = 100
		}
	}
	if tracked {
		pct = tracker.Get()
	}
	c.JSON(http.StatusOK, gin.H{"job_id": id, "status": status, "progress": pct})
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.runner.Store().Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.internalError(c, c.Param("id"), err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) listJobs(c *gin.Context) {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	jobs, err := s.runner.Store().List(c.Request.Context(), limit)
	if err != nil {
		s.internalError(c, "", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) internalError(c *gin.Context, id string, err error) {
	s.logger.Error("request failed", "path", c.FullPath(), "job_id", id, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

// attachmentName names the download after the uploaded file, with the
// extension of the processed output.
func attachmentName(source, output string) string {
	base := strings.TrimSuffix(source, filepath.Ext(source))
	if base == "" || base == "." {
		base = "output"
	}
	return base + "_cutout" + filepath.Ext(output)
}
