package notionsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jomei/notionapi"
)

const (
	callTimeout       = 30 * time.Second
	rateLimitRetries  = 3
	rateLimitBaseWait = time.Second
)

// NotionClient is the concrete implementation of NotionService using the official Notion SDK.
type NotionClient struct {
	client *notionapi.Client
}

// NewNotionClient creates a new NotionClient with the provided API token.
func NewNotionClient(token string) *NotionClient {
	return &NotionClient{
		client: notionapi.NewClient(notionapi.Token(token)),
	}
}

// withRetry runs fn, retrying on Notion rate-limit responses with linear backoff.
func withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= rateLimitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * rateLimitBaseWait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err = fn(callCtx)
		cancel()

		if err == nil || !isRateLimited(err) {
			return err
		}
	}
	return err
}

func isRateLimited(err error) bool {
	var apiErr *notionapi.Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}

// CreatePage creates a new page in a Notion database with the given properties.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	}

	var page *notionapi.Page
	err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		page, err = n.client.Page.Create(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}

	return page, nil
}

// UpdatePage updates an existing Notion page with the given properties.
func (n *NotionClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	req := &notionapi.PageUpdateRequest{
		Properties: properties,
	}

	var page *notionapi.Page
	err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		page, err = n.client.Page.Update(ctx, notionapi.PageID(pageID), req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("UpdatePage: %w", err)
	}

	return page, nil
}

// QueryDatabase queries a Notion database with the given filter.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	var resp *notionapi.DatabaseQueryResponse
	err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("QueryDatabase: %w", err)
	}

	return resp, nil
}

// DeletePage archives a Notion page by setting its archived property to true.
func (n *NotionClient) DeletePage(ctx context.Context, pageID string) error {
	req := &notionapi.PageUpdateRequest{
		Archived: true,
	}

	err := withRetry(ctx, func(ctx context.Context) error {
		_, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), req)
		return err
	})
	if err != nil {
		return fmt.Errorf("DeletePage: %w", err)
	}

	return nil
}

var _ NotionService = (*NotionClient)(nil)
