package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/coursekeeper/internal/client/config"
	"github.com/dmitrijs2005/coursekeeper/internal/common"
)

type refreshRequest struct {
	CourseID    string   `json:"course_id"`
	ArtifactIDs []string `json:"artifact_ids"`
}

type refreshResponse struct {
	Locators map[string]string `json:"locators"`
}

// EndpointRefresher asks a locator service for fresh locators with a single
// JSON POST per batch.
type EndpointRefresher struct {
	url    string
	client *http.Client
}

func NewEndpointRefresher(url string, client *http.Client) *EndpointRefresher {
	if client == nil {
		client = http.DefaultClient
	}
	return &EndpointRefresher{url: url, client: client}
}

func (r *EndpointRefresher) RefreshLocators(ctx context.Context, courseID string, ids []string) (map[string]string, error) {
	payload, err := json.Marshal(refreshRequest{CourseID: courseID, ArtifactIDs: ids})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, common.Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: locator endpoint status %d", common.ErrUnauthorized, resp.StatusCode)
		}
		return nil, mapStatus(resp.StatusCode)
	}

	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}
	if body.Locators == nil {
		body.Locators = map[string]string{}
	}
	return body.Locators, nil
}

// NewRefresher picks the locator refresher the configuration asks for: S3
// presigning when a bucket is set, the locator endpoint otherwise. It
// returns nil when neither is configured.
func NewRefresher(ctx context.Context, s3cfg config.S3Config, endpoint string, client *http.Client) (LocatorRefresher, error) {
	if s3cfg.Bucket != "" {
		p, err := NewS3Presigner(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	if endpoint != "" {
		return NewEndpointRefresher(endpoint, client), nil
	}
	return nil, nil
}
