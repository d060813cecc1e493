package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"approval-matrix-service/internal/models"
)

// HTTPDirectory asks the staff service which roles a user holds
type HTTPDirectory struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *logrus.Logger
}

type staffRolesResponse struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
	Active bool     `json:"active"`
}

// NewHTTPDirectory creates a client for the staff service roles endpoint.
// rps limits outbound calls; values <= 0 disable limiting.
func NewHTTPDirectory(baseURL string, rps float64, logger *logrus.Logger) *HTTPDirectory {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		rateLimiter: rate.NewLimiter(limit, 1),
		logger:      logger,
	}
}

// HasRole fetches the user's roles. A 404 means the user holds no roles.
func (d *HTTPDirectory) HasRole(ctx context.Context, userID string, role models.Role) (bool, error) {
	if err := d.rateLimiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/staff/%s/roles", d.baseURL, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Internal-Service", "approval-matrix-service")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to call staff service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		if d.logger != nil {
			d.logger.WithField("user_id", userID).Debug("staff service has no roles for user")
		}
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("staff service returned status %d", resp.StatusCode)
	}

	var body staffRolesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("failed to parse staff roles response: %w", err)
	}

	if !body.Active {
		return false, nil
	}
	for _, r := range body.Roles {
		if r == string(role) {
			return true, nil
		}
	}
	return false, nil
}

var _ RoleDirectory = (*HTTPDirectory)(nil)
