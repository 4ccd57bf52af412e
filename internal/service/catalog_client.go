package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"equipment-booking/internal/models"
	"equipment-booking/internal/util"

	"go.uber.org/zap"
)

// CatalogClient checks equipment references against the equipment catalog
// over HTTP.
type CatalogClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewCatalogClient creates a catalog client whose requests give up after
// timeout.
func NewCatalogClient(baseURL string, timeout time.Duration) *CatalogClient {
	return &CatalogClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  util.Named("catalog"),
	}
}

// Exists reports whether the catalog knows the equipment. Anything other
// than a clear 200 or 404 is a transient failure.
func (c *CatalogClient) Exists(ctx context.Context, equipmentID int64) (bool, error) {
	ctx, span := util.StartSpan(ctx, "CatalogClient.Exists")
	defer span.End()

	url := fmt.Sprintf("%s/equipments/%d", c.baseURL, equipmentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Catalog unreachable", zap.Int64("equipment_id", equipmentID), zap.Error(err))
		return false, models.NewTransientError("catalog", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, models.NewTransientError("catalog", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}
