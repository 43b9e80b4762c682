package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// ICEClient fetches ICE server configuration from the relay's
// GET /api/ice endpoint, once per negotiation start.
type ICEClient struct {
	baseURL string
	client  *http.Client
}

func NewICEClient(baseURL string) *ICEClient {
	return &ICEClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// DefaultICEServers is the fallback when no relay configuration is
// reachable.
func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

func (c *ICEClient) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/ice", nil)
	if err != nil {
		return nil, fmt.Errorf("ice request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal.ice").Msg("ice fetch failed, using defaults")
		return DefaultICEServers(), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Str("module", "signal.ice").Msg("ice fetch failed, using defaults")
		return DefaultICEServers(), nil
	}

	var payload struct {
		ICEServers []webrtc.ICEServer `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode ice response: %w", err)
	}
	if len(payload.ICEServers) == 0 {
		return DefaultICEServers(), nil
	}
	return payload.ICEServers, nil
}
