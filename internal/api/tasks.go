package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/taskboard/boardsync/internal/model"
)

// taskResponse wraps a single task returned by mutation endpoints.
type taskResponse struct {
	Task model.Task `json:"task"`
}

// statusUpdateRequest is the body for the status-only endpoint.
type statusUpdateRequest struct {
	Status     model.TaskStatus `json:"status"`
	ChannelKey string           `json:"channelKey"`
}

// taskUpdateRequest is the body for the partial-update endpoint.
type taskUpdateRequest struct {
	model.TaskChange
	ChannelKey string `json:"channelKey"`
}

// UpdateTaskStatus moves a task to a new status and returns the
// confirmed server representation. Not retried on failure; the caller
// owns the rollback decision.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID int64, status model.TaskStatus, channelKey string) (model.Task, error) {
	path := fmt.Sprintf("/tasks/%d/status", taskID)
	body := statusUpdateRequest{Status: status, ChannelKey: channelKey}

	var resp taskResponse
	if err := c.mutate(ctx, http.MethodPatch, path, body, &resp); err != nil {
		return model.Task{}, fmt.Errorf("update task %d status: %w", taskID, err)
	}
	return resp.Task, nil
}

// UpdateTask applies a partial change to a task and returns the
// confirmed server representation. Not retried on failure.
func (c *Client) UpdateTask(ctx context.Context, taskID int64, change model.TaskChange, channelKey string) (model.Task, error) {
	path := fmt.Sprintf("/tasks/%d", taskID)
	body := taskUpdateRequest{TaskChange: change, ChannelKey: channelKey}

	var resp taskResponse
	if err := c.mutate(ctx, http.MethodPatch, path, body, &resp); err != nil {
		return model.Task{}, fmt.Errorf("update task %d: %w", taskID, err)
	}
	return resp.Task, nil
}
