package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"chat-engine/internal/chat"
)

const getItemMethod = "/catalog.CatalogService/GetItem"

// CatalogClient resolves marketplace items for item-linked conversations.
type CatalogClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

func NewCatalogClient(conn grpc.ClientConnInterface, timeout time.Duration) *CatalogClient {
	return &CatalogClient{conn: conn, timeout: timeout}
}

func (c *CatalogClient) LookupItem(ctx context.Context, itemID int64) (chat.Item, error) {
	resp, err := invoke(ctx, c.conn, c.timeout, getItemMethod, map[string]any{"item_id": itemID})
	if status.Code(err) == codes.NotFound {
		return chat.Item{}, chat.ErrItemNotFound
	}
	if err != nil {
		return chat.Item{}, err
	}
	if int64Field(resp, "id") == 0 {
		return chat.Item{}, chat.ErrItemNotFound
	}
	return chat.Item{
		OwnerID: int64Field(resp, "owner_id"),
		Status:  stringField(resp, "status"),
	}, nil
}

var _ chat.Catalog = (*CatalogClient)(nil)
