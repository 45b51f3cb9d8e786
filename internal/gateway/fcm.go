package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	fcmEndpoint  = "https://fcm.googleapis.com/fcm/send"
	fcmChunkSize = 500
)

// FCM delivers through Firebase Cloud Messaging's HTTP API. Tokens are FCM
// registration tokens.
type FCM struct {
	serverKey string
	endpoint  string
	client    *http.Client
}

func NewFCM(serverKey string) *FCM {
	return &FCM{
		serverKey: serverKey,
		endpoint:  fcmEndpoint,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type fcmRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Priority        string            `json:"priority"`
	Notification    fcmNotification   `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound,omitempty"`
}

type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

func (f *FCM) SendBatch(ctx context.Context, tokens []string, payload Payload) (*Result, error) {
	res := &Result{}

	for start := 0; start < len(tokens); start += fcmChunkSize {
		end := start + fcmChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		if err := f.sendChunk(ctx, tokens[start:end], payload, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (f *FCM) sendChunk(ctx context.Context, tokens []string, payload Payload, res *Result) error {
	body, err := json.Marshal(fcmRequest{
		RegistrationIDs: tokens,
		Priority:        "high",
		Notification: fcmNotification{
			Title: payload.Title,
			Body:  payload.Body,
			Sound: "default",
		},
		Data: map[string]string{
			"reminderId": payload.ReminderID,
			"task":       payload.Task,
			"priority":   payload.Priority,
			"link":       payload.Link,
			"type":       "reminder",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal fcm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build fcm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+f.serverKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("call fcm: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fcm returned status %d", resp.StatusCode)
	}

	var parsed fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode fcm response: %w", err)
	}
	if len(parsed.Results) != len(tokens) {
		return fmt.Errorf("fcm returned %d results for %d tokens", len(parsed.Results), len(tokens))
	}

	res.Success += parsed.Success
	res.Failure += parsed.Failure
	for i, result := range parsed.Results {
		tr := TokenResult{Token: tokens[i]}
		if result.Error == "" {
			tr.Delivered = true
		} else {
			tr.Permanent = permanentFCMError(result.Error)
			tr.Err = fmt.Errorf("fcm: %s", result.Error)
		}
		res.Tokens = append(res.Tokens, tr)
	}
	return nil
}

// permanentFCMError reports whether an FCM error code means the registration
// token is dead. Everything else (Unavailable, InternalServerError, quota) is
// transient and worth retrying.
func permanentFCMError(code string) bool {
	switch code {
	case "NotRegistered", "InvalidRegistration", "MismatchSenderId":
		return true
	}
	return false
}
