package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/example/ridgelab/internal/pipeline"
	"github.com/example/ridgelab/internal/repository"
	"github.com/example/ridgelab/internal/usecase"
)

// MaxUploadSize bounds the multipart form memory for image submissions.
const MaxUploadSize = 10 << 20

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.RunUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	runs := router.Group("/runs")
	if authMiddleware != nil {
		runs.Use(authMiddleware)
	}

	runs.POST("", func(c *gin.Context) {
		submitRun(c, uc)
	})

	runs.GET("/summary", func(c *gin.Context) {
		summary, err := uc.GetRunSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate runs"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	runs.GET("/:id", func(c *gin.Context) {
		run, err := uc.GetRun(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusOK, runResponse(run))
	})

	runs.GET("", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		status := c.Query("status")

		records, total, err := uc.ListRuns(c.Request.Context(), limit, offset, status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		items := make([]gin.H, 0, len(records))
		for _, run := range records {
			items = append(items, runResponse(run))
		}
		c.JSON(http.StatusOK, gin.H{
			"runs":   items,
			"total":  total,
			"limit":  limit,
			"offset": offset,
		})
	})

	runs.DELETE("/:id", func(c *gin.Context) {
		if err := uc.DeleteRun(c.Request.Context(), c.Param("id")); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete run"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	})
}

func submitRun(c *gin.Context, uc *usecase.RunUseCase) {
	file, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}

	params := usecase.SubmitParams{
		SourceRef: file.Filename,
		CaseID:    c.PostForm("case_id"),
		SampleID:  c.PostForm("sample_id"),
	}

	if raw := c.PostForm("seed"); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "seed must be an integer"})
			return
		}
		params.Seed = &seed
	}
	if raw := c.PostForm("oracle"); raw != "" {
		if params.WithOracle, err = strconv.ParseBool(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "oracle must be a boolean"})
			return
		}
	}
	if raw := c.PostForm("notify"); raw != "" {
		if params.WithNotify, err = strconv.ParseBool(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "notify must be a boolean"})
			return
		}
	}

	// Decode failures still produce a run so the caller always gets a
	// terminal outcome with the failure recorded; params.Frame stays nil and
	// the classifier rejects it as an invalid image.
	if src, err := file.Open(); err == nil {
		defer src.Close()
		if data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize)); err == nil {
			if frame, err := pipeline.DecodeBytes(data); err == nil {
				params.Frame = frame
			}
		}
	}

	run, err := uc.Submit(c.Request.Context(), params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if run.Status == repository.StatusFailed {
		c.JSON(http.StatusUnprocessableEntity, runResponse(run))
		return
	}
	c.JSON(http.StatusCreated, runResponse(run))
}

func runResponse(run *repository.ProcessingRun) gin.H {
	resp := gin.H{
		"run_id":         run.RunID,
		"status":         run.Status,
		"source_ref":     run.SourceRef,
		"case_id":        run.CaseID,
		"sample_id":      run.SampleID,
		"prompt_version": run.PromptVersion,
		"seed":           run.Seed,
		"created_at":     run.CreatedAt,
	}
	if run.Status == repository.StatusCompleted {
		resp["processed_key"] = run.ProcessedKey
		resp["processed_url"] = run.ProcessedURL
		resp["metrics"] = gin.H{
			"texture_uniformity":   run.TextureUniformity,
			"edge_preservation":    run.EdgePreservation,
			"contrast_ratio":       run.ContrastRatio,
			"ridge_clarity":        run.RidgeClarity,
			"background_cleanness": run.BackgroundCleanness,
			"overall_score":        run.OverallScore,
		}
		if run.OracleReport != "" {
			resp["oracle_report"] = json.RawMessage(run.OracleReport)
		} else {
			resp["oracle_report"] = nil
		}
	}
	if run.Status == repository.StatusFailed {
		resp["error"] = run.ErrorDetail
	}
	if run.CompletedAt != nil {
		resp["completed_at"] = run.CompletedAt
		resp["elapsed_ms"] = run.ElapsedMs
	}
	return resp
}
