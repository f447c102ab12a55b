package registry

import (
	"context"
	"net/url"

	"github.com/akam1o/volume-lifecycle/pkg/apiclient"
)

const objectStoresPath = "/api/v2/object-stores"

// HTTPLister lists init records from the object-store control-plane API
type HTTPLister struct {
	client *apiclient.Client
}

// NewHTTPLister creates a lister backed by the given REST client
func NewHTTPLister(client *apiclient.Client) *HTTPLister {
	return &HTTPLister{client: client}
}

// ListInitRecords implements Lister
func (l *HTTPLister) ListInitRecords(ctx context.Context, storeID string) ([]Record, error) {
	var query url.Values
	if storeID != "" {
		query = url.Values{"id": {storeID}}
	}

	var records []Record
	if err := l.client.Get(ctx, objectStoresPath, query, &records); err != nil {
		return nil, err
	}
	return records, nil
}
