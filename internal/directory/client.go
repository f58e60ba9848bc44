// Package directory is the client for the sibling user/organization service.
// Lookups degrade to "absent" on transient failure; callers decide whether
// absence is fatal.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Contact is the minimal user record needed for notifications.
type Contact struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// PatientContact extends Contact with the patient's registration status.
type PatientContact struct {
	Contact
	Status    string    `json:"status"`
	PatientID uuid.UUID `json:"patientId"`
	UserID    uuid.UUID `json:"userId"`
}

// Specialty is a medical specialty as known by the directory.
type Specialty struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

const PatientStatusActive = "ACTIVE"

type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "directory").Logger(),
	}
}

// get issues a GET and decodes the body into out. A non-2xx status or a
// transport error is reported as a miss, not an error.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) bool {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", u).Msg("build directory request")
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", u).Msg("directory lookup failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode).Str("url", u).Msg("directory lookup failed")
		return false
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Warn().Err(err).Str("url", u).Msg("decode directory response")
		return false
	}
	return true
}

// ContactByUserID returns the contact for a platform user (doctors included),
// or nil if the user is unknown or the directory is unavailable.
func (c *Client) ContactByUserID(ctx context.Context, userID uuid.UUID) (*Contact, error) {
	var body struct {
		User *Contact `json:"user"`
	}
	if !c.get(ctx, fmt.Sprintf("/api/v1/users/%s", userID), nil, &body) {
		return nil, nil
	}
	if body.User == nil || (body.User.Email == "" && body.User.FullName == "") {
		return nil, nil
	}
	return body.User, nil
}

// PatientContactByPatientID returns a patient's contact and status, or nil
// when the patient is unknown or the directory is unavailable.
func (c *Client) PatientContactByPatientID(ctx context.Context, patientID uuid.UUID) (*PatientContact, error) {
	var body struct {
		Patient *struct {
			ID     uuid.UUID `json:"id"`
			UserID uuid.UUID `json:"userId"`
			Status string    `json:"status"`
			User   *Contact  `json:"user"`
		} `json:"patient"`
	}
	if !c.get(ctx, fmt.Sprintf("/api/v1/users/patients/%s", patientID), nil, &body) {
		return nil, nil
	}
	p := body.Patient
	if p == nil || p.User == nil {
		return nil, nil
	}
	return &PatientContact{
		Contact:   *p.User,
		Status:    p.Status,
		PatientID: p.ID,
		UserID:    p.UserID,
	}, nil
}

// DoctorHasSpecialty checks whether the doctor holds the given specialty.
// Directory unavailability reads as false.
func (c *Client) DoctorHasSpecialty(ctx context.Context, doctorID, specialtyID uuid.UUID) (bool, error) {
	var body struct {
		Doctor *struct {
			Affiliations []struct {
				SpecialtyID uuid.UUID `json:"specialtyId"`
			} `json:"affiliations"`
		} `json:"doctor"`
	}
	if !c.get(ctx, fmt.Sprintf("/api/v1/users/doctors/%s", doctorID), nil, &body) {
		return false, nil
	}
	if body.Doctor == nil {
		return false, nil
	}
	for _, a := range body.Doctor.Affiliations {
		if a.SpecialtyID == specialtyID {
			return true, nil
		}
	}
	return false, nil
}

// ResolvePatientIDsByName resolves patient ids matching a display name.
// Failures yield an empty slice so name filters degrade to no-op.
func (c *Client) ResolvePatientIDsByName(ctx context.Context, name string) ([]uuid.UUID, error) {
	if name == "" {
		return nil, nil
	}
	var body struct {
		Users []struct {
			ID uuid.UUID `json:"id"`
		} `json:"users"`
	}
	q := url.Values{}
	q.Set("q", name)
	q.Set("role", "PACIENTE")
	q.Set("limit", "100")
	if !c.get(ctx, "/api/v1/users", q, &body) {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(body.Users))
	for _, u := range body.Users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// SpecialtyByID returns the specialty record, or nil when unknown.
func (c *Client) SpecialtyByID(ctx context.Context, specialtyID uuid.UUID) (*Specialty, error) {
	var body struct {
		Specialty *Specialty `json:"specialty"`
	}
	q := url.Values{}
	q.Set("specialtyId", specialtyID.String())
	if !c.get(ctx, "/api/v1/specialties", q, &body) {
		return nil, nil
	}
	return body.Specialty, nil
}
