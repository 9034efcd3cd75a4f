package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
	"github.com/ekaya-inc/ekaya-recorder/pkg/services"
	"github.com/ekaya-inc/ekaya-recorder/pkg/status"
)

// maxPageSize caps the page_size argument of run_zip_pass.
const maxPageSize = 500

// PipelineToolDeps contains dependencies for pipeline tools.
type PipelineToolDeps struct {
	State           *status.State
	Segments        services.SegmentService
	Ocr             services.OcrService
	Zip             services.ZipService
	Upload          services.UploadService
	Screenshots     repositories.ScreenshotRepository
	Manifests       repositories.ZipManifestRepository
	DefaultPageSize int
	Logger          *zap.Logger
}

// RegisterPipelineTools registers the pipeline inspection and pass tools.
// Pass tools run synchronously and return the pass result.
func RegisterPipelineTools(s *server.MCPServer, deps *PipelineToolDeps) {
	registerPipelineStatusTool(s, deps)
	registerSegmentPassTool(s, deps)
	registerOcrPassTool(s, deps)
	registerZipPassTool(s, deps)
	registerUploadPassTool(s, deps)
}

type pipelineStatusResult struct {
	State           status.Snapshot          `json:"state"`
	Screenshots     *models.ScreenshotCounts `json:"screenshots"`
	PendingArchives int                      `json:"pending_archives"`
}

func registerPipelineStatusTool(s *server.MCPServer, deps *PipelineToolDeps) {
	tool := mcp.NewTool(
		"pipeline_status",
		mcp.WithDescription("Returns recorder state, screenshot counters and the number of archives waiting for upload"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		counts, err := deps.Screenshots.Counts(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count screenshots: %w", err)
		}
		pending, err := deps.Manifests.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count pending archives: %w", err)
		}
		return jsonResult(pipelineStatusResult{
			State:           deps.State.Snapshot(),
			Screenshots:     counts,
			PendingArchives: pending,
		})
	})
}

type segmentPassResult struct {
	Segments int `json:"segments"`
}

func registerSegmentPassTool(s *server.MCPServer, deps *PipelineToolDeps) {
	tool := mcp.NewTool(
		"run_segment_pass",
		mcp.WithDescription("Groups screenshots of closed sessions into per-app segments"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if result := maintenanceResult(deps.State); result != nil {
			return result, nil
		}
		n, err := deps.Segments.SaveAllSessionSegments(ctx)
		if err != nil {
			return nil, fmt.Errorf("segment pass failed: %w", err)
		}
		return jsonResult(segmentPassResult{Segments: n})
	})
}

func registerOcrPassTool(s *server.MCPServer, deps *PipelineToolDeps) {
	tool := mcp.NewTool(
		"run_ocr_pass",
		mcp.WithDescription("Recognizes text in one batch of pending screenshots, newest first"),
		mcp.WithBoolean(
			"manual",
			mcp.Description("Run even when the backlog is below the scheduled minimum (default: true)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if result := maintenanceResult(deps.State); result != nil {
			return result, nil
		}
		res, err := deps.Ocr.RunOcrPass(ctx, req.GetBool("manual", true))
		if err != nil {
			if result := NewPassErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("ocr pass failed: %w", err)
		}
		return jsonResult(res)
	})
}

func registerZipPassTool(s *server.MCPServer, deps *PipelineToolDeps) {
	tool := mcp.NewTool(
		"run_zip_pass",
		mcp.WithDescription("Archives finished screenshots with their session, segment and accessibility rows"),
		mcp.WithNumber(
			"page_size",
			mcp.Description(fmt.Sprintf("Screenshots per archive, 1 to %d (default: %d)", maxPageSize, deps.DefaultPageSize)),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if result := maintenanceResult(deps.State); result != nil {
			return result, nil
		}
		pageSize := req.GetInt("page_size", deps.DefaultPageSize)
		if pageSize < 1 || pageSize > maxPageSize {
			return NewErrorResultWithDetails(
				"invalid_parameters",
				fmt.Sprintf("page_size must be between 1 and %d", maxPageSize),
				map[string]any{"page_size": pageSize},
			), nil
		}
		res, err := deps.Zip.ZipBatch(ctx, pageSize)
		if err != nil {
			if result := NewPassErrorResult(err); result != nil {
				return result, nil
			}
			return nil, fmt.Errorf("zip pass failed: %w", err)
		}
		return jsonResult(res)
	})
}

func registerUploadPassTool(s *server.MCPServer, deps *PipelineToolDeps) {
	tool := mcp.NewTool(
		"run_upload_pass",
		mcp.WithDescription("Uploads one batch of pending archives and log files when network and power preferences allow"),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if result := maintenanceResult(deps.State); result != nil {
			return result, nil
		}
		res, err := deps.Upload.UploadPass(ctx)
		if err != nil {
			if result := NewPassErrorResult(err); result != nil {
				return result, nil
			}
			deps.Logger.Error("Upload pass failed", zap.Error(err))
			return nil, fmt.Errorf("upload pass failed: %w", err)
		}
		return jsonResult(res)
	})
}

func maintenanceResult(state *status.State) *mcp.CallToolResult {
	if state != nil && state.Maintenance.Get() {
		return NewErrorResult("maintenance", "pipeline is in maintenance mode; retry after local data is cleared")
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
