// Package pvoutput provides the PVOutput.org monitoring service implementation.
package pvoutput

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/resident-x/go-apsecu/internal/config"
	"github.com/resident-x/go-apsecu/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const timestampLayout = "2006-01-02 15:04:05"

// NoopClient is a no-operation implementation of the MonitoringService interface.
type NoopClient struct{}

// NewNoopClient creates a new no-operation PVOutput client.
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

// Send is a no-op for the NoopClient.
func (c *NoopClient) Send(_ context.Context, _ *domain.Snapshot) error {
	return nil
}

// Connect is a no-op for the NoopClient.
func (c *NoopClient) Connect() error {
	return nil
}

// Close is a no-op for the NoopClient.
func (c *NoopClient) Close() error {
	return nil
}

// Client implements the MonitoringService interface for PVOutput.org.
type Client struct {
	config        *config.Config
	httpClient    *http.Client
	location      *time.Location
	logger        zerolog.Logger
	now           func() time.Time
	lastUpdateMap map[string]time.Time
	mutex         sync.Mutex
}

// NewClient creates a new PVOutput client. Device timestamps are read in
// the configured timezone, falling back to local time.
func NewClient(cfg *config.Config) *Client {
	location := time.Local
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			location = loc
		}
	}

	return &Client{
		config:        cfg,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		location:      location,
		logger:        log.With().Str("component", "pvoutput").Logger(),
		now:           time.Now,
		lastUpdateMap: make(map[string]time.Time),
	}
}

// Connect establishes a connection to the service.
// For PVOutput, this is a no-op as each request is independent.
func (c *Client) Connect() error {
	return nil
}

// Send uploads the ECU totals of a snapshot as one PVOutput status.
func (c *Client) Send(ctx context.Context, snapshot *domain.Snapshot) error {
	if !c.config.PVOutput.Enabled {
		return nil
	}

	if c.config.PVOutput.APIKey == "" || c.config.PVOutput.SystemID == "" {
		return fmt.Errorf("PVOutput API key and/or System ID not configured")
	}

	if snapshot == nil || snapshot.EcuID == "" {
		return nil
	}

	// Rate limited per ECU
	if !c.canUpdate(snapshot.EcuID) {
		c.logger.Debug().Str("ecu_id", snapshot.EcuID).Msg("Skipping PVOutput update due to rate limit")
		return nil
	}

	if err := c.makeRequest(ctx, c.buildParams(snapshot)); err != nil {
		return err
	}

	c.updateTimestamp(snapshot.EcuID)
	c.logger.Debug().
		Str("ecu_id", snapshot.EcuID).
		Int("power", snapshot.CurrentPower).
		Msg("Sent status to PVOutput")
	return nil
}

// buildParams maps a snapshot to addstatus parameters (v1, v2, v5, v6).
func (c *Client) buildParams(snapshot *domain.Snapshot) url.Values {
	params := url.Values{}

	stamp := c.statusTime(snapshot.Timestamp)
	params.Set("d", stamp.Format("20060102"))
	params.Set("t", stamp.Format("15:04"))

	if !c.config.PVOutput.DisableEnergyToday {
		// kWh to watt hours
		params.Set("v1", strconv.FormatFloat(snapshot.TodayEnergy*1000, 'f', 0, 64))
	}

	params.Set("v2", strconv.Itoa(snapshot.CurrentPower))

	if c.config.PVOutput.UseInverterTemp {
		if temp, ok := meanTemperature(snapshot); ok {
			params.Set("v5", strconv.FormatFloat(temp, 'f', 1, 64))
		}
	}

	if voltage, ok := meanVoltage(snapshot); ok {
		params.Set("v6", strconv.FormatFloat(voltage, 'f', 1, 64))
	}

	return params
}

// statusTime uses the device clock when it parses, otherwise now.
func (c *Client) statusTime(timestamp string) time.Time {
	if timestamp != "" {
		if stamp, err := time.ParseInLocation(timestampLayout, timestamp, c.location); err == nil {
			return stamp
		}
	}
	return c.now().In(c.location)
}

// meanTemperature averages the temperature of online inverters.
func meanTemperature(snapshot *domain.Snapshot) (float64, bool) {
	sum, count := 0, 0
	for _, inv := range snapshot.Inverters {
		if !inv.Online || inv.Temperature == nil {
			continue
		}
		sum += *inv.Temperature
		count++
	}
	if count == 0 {
		return 0, false
	}
	return float64(sum) / float64(count), true
}

// meanVoltage averages the non-zero channel voltages of online inverters.
func meanVoltage(snapshot *domain.Snapshot) (float64, bool) {
	sum, count := 0, 0
	for _, inv := range snapshot.Inverters {
		if !inv.Online {
			continue
		}
		for _, v := range inv.Voltage {
			if v <= 0 {
				continue
			}
			sum += v
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return float64(sum) / float64(count), true
}

// makeRequest makes an HTTP POST request to PVOutput API.
func (c *Client) makeRequest(ctx context.Context, params url.Values) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.config.PVOutput.URL,
		strings.NewReader(params.Encode()),
	)
	if err != nil {
		return fmt.Errorf("failed to create PVOutput request: %w", err)
	}

	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Add("X-Pvoutput-Apikey", c.config.PVOutput.APIKey)
	req.Header.Add("X-Pvoutput-SystemId", c.config.PVOutput.SystemID)
	req.Header.Add("X-Rate-Limit", "1")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("PVOutput request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Closing response body in defer, error not critical
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("PVOutput returned status code %d", resp.StatusCode)
	}

	return nil
}

// Close terminates the connection to the service.
func (c *Client) Close() error {
	return nil
}

// canUpdate checks if an update is allowed based on rate limiting.
func (c *Client) canUpdate(ecuID string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	lastUpdate, exists := c.lastUpdateMap[ecuID]
	if !exists {
		return true
	}

	updateInterval := time.Duration(c.config.PVOutput.UpdateLimitMinutes) * time.Minute
	return c.now().Sub(lastUpdate) >= updateInterval
}

// updateTimestamp records when an update was made.
func (c *Client) updateTimestamp(ecuID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lastUpdateMap[ecuID] = c.now()
}
