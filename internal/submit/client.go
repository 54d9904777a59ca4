// Package submit turns decoded QR payloads into confirmed attendance
// records via the remote attendance backend.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"scanstation/internal/decode"
)

// Client calls the remote attendance-marking endpoint.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient creates a client with a fixed request timeout. Calls that
// exceed it are classified as network failures.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type qrCodeData struct {
	IndexNumber     string `json:"indexNumber"`
	Name            string `json:"name,omitempty"`
	ParentTelephone string `json:"parent_telephone,omitempty"`
	StudentEmail    string `json:"student_email,omitempty"`
	Address         string `json:"address,omitempty"`
}

type markRequest struct {
	QRCodeData   qrCodeData `json:"qrCodeData"`
	DeviceInfo   string     `json:"deviceInfo"`
	ScanLocation string     `json:"scanLocation"`
}

// MarkAttendance submits a decoded payload and normalizes the response.
// All failures come back as *Error with a class and operator message.
func (c *Client) MarkAttendance(ctx context.Context, p decode.Payload, deviceInfo, scanLocation string) (Outcome, error) {
	body, _ := json.Marshal(markRequest{
		QRCodeData: qrCodeData{
			IndexNumber:     strings.TrimSpace(p.IndexNumber),
			Name:            strings.TrimSpace(p.Name),
			ParentTelephone: strings.TrimSpace(p.ParentTelephone),
			StudentEmail:    strings.TrimSpace(p.StudentEmail),
			Address:         strings.TrimSpace(p.Address),
		},
		DeviceInfo:   deviceInfo,
		ScanLocation: scanLocation,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/mark-attendance", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, netError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Outcome{}, netError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var remote struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(raw, &remote)
		return Outcome{}, classify(resp.StatusCode, remote.Message)
	}

	var out struct {
		Data struct {
			StudentInfo        Student   `json:"studentInfo"`
			AttendanceStatus   string    `json:"attendanceStatus"`
			Message            string    `json:"message"`
			NotificationStatus string    `json:"notificationStatus"`
			Timestamp          time.Time `json:"timestamp"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Outcome{}, &Error{Class: ClassServer, Status: resp.StatusCode,
			Message: "unrecognized response from attendance service", Err: err}
	}

	status := Status(out.Data.AttendanceStatus)
	if !knownStatuses[status] {
		return Outcome{}, &Error{Class: ClassServer, Status: resp.StatusCode,
			Message: fmt.Sprintf("unrecognized attendance status %q", out.Data.AttendanceStatus)}
	}

	markedAt := out.Data.Timestamp
	if markedAt.IsZero() {
		markedAt = time.Now().UTC()
	}
	notification := NotificationState(out.Data.NotificationStatus)
	if notification == "" {
		notification = NotificationPending
	}

	return Outcome{
		ID:           uuid.NewString(),
		Student:      out.Data.StudentInfo,
		Status:       status,
		Message:      out.Data.Message,
		Notification: notification,
		MarkedAt:     markedAt,
	}, nil
}
