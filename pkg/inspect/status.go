package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pario-ai/tablecache/pkg/models"
)

// StatusSource reports the lifecycle status of a cache manager.
type StatusSource interface {
	Status(ctx context.Context) (models.Status, error)
}

// statusFunc adapts an in-process status getter to StatusSource.
type statusFunc func() models.Status

func (f statusFunc) Status(context.Context) (models.Status, error) {
	return f(), nil
}

// RemoteStatus reads the status endpoint of a running proxy.
type RemoteStatus struct {
	URL    string
	Client *http.Client
}

// Status implements StatusSource.
func (r RemoteStatus) Status(ctx context.Context) (models.Status, error) {
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return models.Status{}, fmt.Errorf("create status request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Status{}, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Status{}, fmt.Errorf("fetch status: unexpected status %d", resp.StatusCode)
	}
	var st models.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return models.Status{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}
