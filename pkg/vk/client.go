package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"forwardbot/internal/constants"
	"forwardbot/pkg/vk/types"

	"github.com/sirupsen/logrus"
)

const maxErrorBodyBytes = 512

// PollFailedError is returned when the long-poll server answers with a "failed" code.
// 1 means the ts is outdated, 2 the key expired, 3 the user information was lost.
type PollFailedError struct {
	Failed int
	TS     int64
}

func (e *PollFailedError) Error() string {
	return fmt.Sprintf("long-poll failed with code %d", e.Failed)
}

// IsAuthError reports whether err is a VK "user authorization failed" error
func IsAuthError(err error) bool {
	var apiErr *types.APIError
	return errors.As(err, &apiErr) && apiErr.Code == types.ErrCodeAuthFailed
}

type VKClient struct {
	baseURL    string
	apiVersion string
	client     *http.Client
	pollClient *http.Client
	logger     *logrus.Logger
}

var _ types.Client = (*VKClient)(nil)

func NewClient(baseURL, apiVersion string, httpClient *http.Client) *VKClient {
	return NewClientWithLogger(baseURL, apiVersion, httpClient, nil)
}

func NewClientWithLogger(baseURL, apiVersion string, httpClient *http.Client, logger *logrus.Logger) *VKClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if baseURL == "" {
		baseURL = constants.DefaultVKAPIBaseURL
	}
	if apiVersion == "" {
		apiVersion = constants.DefaultVKAPIVersion
	}

	return &VKClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiVersion: apiVersion,
		client:     httpClient,
		// Long-poll requests are bounded by the caller's context deadline
		pollClient: &http.Client{Transport: httpClient.Transport},
		logger:     logger,
	}
}

// GetLongPollServer calls messages.getLongPollServer for the token's owner
func (c *VKClient) GetLongPollServer(ctx context.Context, token string) (*types.LongPollServer, error) {
	params := url.Values{}
	params.Set("lp_version", strconv.Itoa(constants.DefaultLongPollVersion))

	var server types.LongPollServer
	if err := c.call(ctx, "messages.getLongPollServer", token, params, &server); err != nil {
		return nil, err
	}
	if server.Server == "" || server.Key == "" {
		return nil, fmt.Errorf("incomplete long-poll server response")
	}
	return &server, nil
}

// GetHistoryPhotos lists photo attachments of the conversation with peerID
func (c *VKClient) GetHistoryPhotos(ctx context.Context, token string, peerID int64) ([]types.Photo, error) {
	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(peerID, 10))
	params.Set("media_type", "photo")

	var resp types.HistoryAttachmentsResponse
	if err := c.call(ctx, "messages.getHistoryAttachments", token, params, &resp); err != nil {
		return nil, err
	}

	photos := make([]types.Photo, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Attachment.Photo != nil {
			photos = append(photos, *item.Attachment.Photo)
		}
	}
	return photos, nil
}

func (c *VKClient) call(ctx context.Context, method, token string, params url.Values, out interface{}) error {
	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("access_token", token)
	form.Set("v", c.apiVersion)

	endpoint := fmt.Sprintf("%s/%s", c.baseURL, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	c.logger.WithField("method", method).Debug("Calling VK API")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return fmt.Errorf("vk API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var envelope types.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if len(envelope.Response) == 0 {
		return fmt.Errorf("empty response from %s", method)
	}
	if err := json.Unmarshal(envelope.Response, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}

// Poll performs one long-poll round against server starting at ts.
// Any transport, status, "failed" or decoding problem is returned as an error.
func (c *VKClient) Poll(ctx context.Context, server, key string, ts int64, wait int) (*types.PollResult, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid long-poll server %q: %w", server, err)
	}
	q := u.Query()
	q.Set("act", "a_check")
	q.Set("key", key)
	q.Set("ts", strconv.FormatInt(ts, 10))
	q.Set("wait", strconv.Itoa(wait))
	q.Set("mode", strconv.Itoa(constants.DefaultLongPollMode))
	q.Set("version", strconv.Itoa(constants.DefaultLongPollVersion))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.pollClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send long-poll request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("long-poll error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var raw types.PollResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode long-poll response: %w", err)
	}
	if raw.Failed != 0 {
		return nil, &PollFailedError{Failed: raw.Failed, TS: raw.TS}
	}

	events, err := ParseUpdates(raw.Updates)
	if err != nil {
		return nil, err
	}

	return &types.PollResult{TS: raw.TS, Events: events}, nil
}

// ParseUpdates decodes the new-message events of a long-poll response in order.
// Other event codes are skipped.
func ParseUpdates(updates []json.RawMessage) ([]types.MessageEvent, error) {
	var events []types.MessageEvent
	for i, update := range updates {
		event, ok, err := parseUpdate(update)
		if err != nil {
			return nil, fmt.Errorf("failed to decode update %d: %w", i, err)
		}
		if ok {
			events = append(events, event)
		}
	}
	return events, nil
}

func parseUpdate(update json.RawMessage) (types.MessageEvent, bool, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(update, &fields); err != nil {
		return types.MessageEvent{}, false, err
	}
	if len(fields) == 0 {
		return types.MessageEvent{}, false, fmt.Errorf("empty update")
	}

	var code int
	if err := json.Unmarshal(fields[0], &code); err != nil {
		return types.MessageEvent{}, false, fmt.Errorf("invalid event code: %w", err)
	}
	if code != types.EventNewMessage {
		return types.MessageEvent{}, false, nil
	}
	if len(fields) < 6 {
		return types.MessageEvent{}, false, fmt.Errorf("new-message event has %d fields", len(fields))
	}

	var event types.MessageEvent
	for i, dst := range []*int64{&event.MessageID, &event.Flags, &event.PeerID, &event.Timestamp} {
		if err := json.Unmarshal(fields[i+1], dst); err != nil {
			return types.MessageEvent{}, false, fmt.Errorf("invalid field %d: %w", i+1, err)
		}
	}

	var text string
	if err := json.Unmarshal(fields[5], &text); err != nil {
		return types.MessageEvent{}, false, fmt.Errorf("invalid text: %w", err)
	}
	event.Text = normalizeText(text)

	for _, extra := range fields[6:] {
		var obj map[string]json.RawMessage
		if json.Unmarshal(extra, &obj) != nil {
			continue
		}
		event.Attachments = append(event.Attachments, attachmentRefs(obj)...)
	}

	return event, true, nil
}

// attachmentRefs collects attach1..attachN in order, stopping at the first gap
func attachmentRefs(obj map[string]json.RawMessage) []types.AttachmentRef {
	var refs []types.AttachmentRef
	for n := 1; ; n++ {
		prefix := "attach" + strconv.Itoa(n)
		rawType, ok := obj[prefix+"_type"]
		if !ok {
			return refs
		}
		var ref types.AttachmentRef
		if json.Unmarshal(rawType, &ref.Type) != nil {
			return refs
		}
		if rawID, ok := obj[prefix]; ok {
			_ = json.Unmarshal(rawID, &ref.ID)
		}
		refs = append(refs, ref)
	}
}

// normalizeText undoes the HTML escaping VK applies to long-poll message text
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "<br>", "\n")
	return html.UnescapeString(text)
}

// ParsePhotoID splits a "<owner>_<photo>" attachment id
func ParsePhotoID(id string) (ownerID, photoID int64, err error) {
	owner, photo, found := strings.Cut(id, "_")
	if !found {
		return 0, 0, fmt.Errorf("malformed photo id %q", id)
	}
	if ownerID, err = strconv.ParseInt(owner, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed photo owner in %q: %w", id, err)
	}
	// Access keys may follow the photo id: "<owner>_<photo>_<key>"
	photo, _, _ = strings.Cut(photo, "_")
	if photoID, err = strconv.ParseInt(photo, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("malformed photo id in %q: %w", id, err)
	}
	return ownerID, photoID, nil
}
