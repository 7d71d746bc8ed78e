package api

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/taskboard/boardsync/internal/model"
)

// boardResponse is the GET /board response body.
type boardResponse struct {
	Tasks []model.Task `json:"tasks"`
}

// repositoriesResponse is the GET /repositories response body.
type repositoriesResponse struct {
	Repositories []model.Repository `json:"repositories"`
}

// GetBoard fetches the full task list for a channel and returns it as
// a snapshot with columns derived in the default order.
func (c *Client) GetBoard(ctx context.Context, channelKey string) (model.BoardSnapshot, error) {
	query := url.Values{}
	query.Set("channelKey", channelKey)

	var resp boardResponse
	if err := c.get(ctx, "/board", query, &resp); err != nil {
		return model.BoardSnapshot{}, fmt.Errorf("get board %s: %w", channelKey, err)
	}

	meta := model.SnapshotMeta{
		ChannelKey:  channelKey,
		GeneratedAt: time.Now(),
		Source:      "rest",
	}
	return model.NewSnapshot(resp.Tasks, meta), nil
}

// ListRepositories fetches the repositories this server tracks. Each
// repository path doubles as a broadcast channel key.
func (c *Client) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	var resp repositoriesResponse
	if err := c.get(ctx, "/repositories", nil, &resp); err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	return resp.Repositories, nil
}
