// Package medrecord is a thin read-only client for the medical-record
// service, used only to enrich the clinical-workflow view. A failed lookup
// is a miss, never an error surfaced to the caller.
package medrecord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Record is the subset of a medical record the workflow view displays.
type Record struct {
	ID            uuid.UUID       `json:"id"`
	AppointmentID uuid.UUID       `json:"appointmentId"`
	PatientID     uuid.UUID       `json:"patientId"`
	Diagnosis     *string         `json:"diagnosis"`
	Notes         *string         `json:"notes"`
	Data          json.RawMessage `json:"data"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "medrecord").Logger(),
	}
}

// GetByAppointmentID returns the record for an appointment, or nil when none
// exists or the service is unreachable.
func (c *Client) GetByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Record, error) {
	url := fmt.Sprintf("%s/medical-records/appointment/%s", c.baseURL, appointmentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("appointmentId", appointmentID.String()).Msg("medical record lookup failed")
		return nil, nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var rec Record
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			c.logger.Warn().Err(err).Str("appointmentId", appointmentID.String()).Msg("bad medical record payload")
			return nil, nil
		}
		return &rec, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		c.logger.Warn().Int("status", resp.StatusCode).Str("appointmentId", appointmentID.String()).Msg("medical record lookup returned error status")
		return nil, nil
	}
}
