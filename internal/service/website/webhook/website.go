package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/crosspost/internal/models"
	"github.com/ifuryst/crosspost/internal/service/poster"
	"github.com/ifuryst/crosspost/pkg/util"
)

// Config describes one HTTP endpoint that accepts posts.
type Config struct {
	Name              string
	BaseURL           string
	Token             string
	AcceptsSourceURLs bool
	WaitBetweenPosts  time.Duration
	MaxTags           int
	Timeout           time.Duration
}

// Website posts submissions as JSON to a remote HTTP API:
//
//	GET  {base}/me?account=ID        -> {"logged_in": true, "username": "..."}
//	POST {base}/posts/file           -> {"url": "...", "message": "..."}
//	POST {base}/posts/notification   -> {"url": "...", "message": "..."}
type Website struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Website {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Website{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("website", cfg.Name)),
	}
}

func (w *Website) Name() string                    { return w.cfg.Name }
func (w *Website) AcceptsSourceURLs() bool         { return w.cfg.AcceptsSourceURLs }
func (w *Website) WaitBetweenPosts() time.Duration { return w.cfg.WaitBetweenPosts }

type loginResponse struct {
	LoggedIn *bool  `json:"logged_in"`
	Username string `json:"username"`
}

type postResponse struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

type filePayload struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type fileRequest struct {
	poster.PostData
	Primary    filePayload   `json:"primary"`
	Thumbnail  *filePayload  `json:"thumbnail,omitempty"`
	Additional []filePayload `json:"additional,omitempty"`
}

func (w *Website) CheckLogin(ctx context.Context, accountID string) (poster.LoginStatus, error) {
	endpoint := fmt.Sprintf("%s/me?account=%s", w.cfg.BaseURL, url.QueryEscape(accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return poster.LoginStatus{}, fmt.Errorf("failed to create request: %w", err)
	}
	w.authorize(req)

	resp, err := w.client.Do(req)
	if err != nil {
		return poster.LoginStatus{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return poster.LoginStatus{}, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return poster.LoginStatus{LoggedIn: false}, nil
	case resp.StatusCode != http.StatusOK:
		return poster.LoginStatus{}, fmt.Errorf("API returned status %d: %s", resp.StatusCode, util.Truncate(string(body), 200))
	}

	status := poster.LoginStatus{LoggedIn: true, Username: accountID}
	if len(bytes.TrimSpace(body)) == 0 {
		return status, nil
	}

	var login loginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		return poster.LoginStatus{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if login.LoggedIn != nil {
		status.LoggedIn = *login.LoggedIn
	}
	if login.Username != "" {
		status.Username = login.Username
	}
	return status, nil
}

func encodeFile(f poster.PostFile) filePayload {
	return filePayload{
		Name:     f.Name,
		MimeType: f.MimeType,
		Data:     base64.StdEncoding.EncodeToString(f.Data),
	}
}

func (w *Website) PostFile(ctx context.Context, token *poster.CancellationToken, data poster.FilePostData) (*poster.PostResponse, error) {
	if err := token.Check(); err != nil {
		return nil, err
	}

	request := fileRequest{
		PostData: data.PostData,
		Primary:  encodeFile(data.Primary),
	}
	if data.Thumbnail != nil {
		thumb := encodeFile(*data.Thumbnail)
		request.Thumbnail = &thumb
	}
	for _, f := range data.Additional {
		request.Additional = append(request.Additional, encodeFile(f))
	}

	return w.send(ctx, token, "/posts/file", request)
}

func (w *Website) PostNotification(ctx context.Context, token *poster.CancellationToken, data poster.PostData) (*poster.PostResponse, error) {
	return w.send(ctx, token, "/posts/notification", data)
}

func (w *Website) send(ctx context.Context, token *poster.CancellationToken, path string, payload any) (*poster.PostResponse, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal post request: %w", err)
	}

	// Last point where stopping leaves nothing behind on the remote side.
	if err := token.Check(); err != nil {
		return nil, err
	}

	endpoint := w.cfg.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	w.authorize(req)

	w.logger.Debug("Sending post", zap.String("url", endpoint), zap.Int("bytes", len(jsonData)))

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Error("Failed to send post", zap.Error(err), zap.String("url", endpoint))
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.logger.Error("Website rejected post",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response_body", util.Truncate(string(body), 500)))
		return nil, &poster.PostError{
			Message: fmt.Sprintf("API returned status %d", resp.StatusCode),
			AdditionalInfo: map[string]any{
				"status_code": resp.StatusCode,
				"body":        util.Truncate(string(body), 2000),
			},
		}
	}

	var result postResponse
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return &poster.PostResponse{Source: result.URL, Message: result.Message}, nil
}

func (w *Website) authorize(req *http.Request) {
	if w.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.Token)
	}
}

func (w *Website) Validate(sub *models.Submission, part, defaultPart *models.SubmissionPart) poster.ValidationResult {
	var result poster.ValidationResult

	def := models.PartData{}
	if defaultPart != nil {
		def = defaultPart.Data
	}

	if util.FirstNonEmpty(part.Data.Title, def.Title, sub.Title) == "" {
		result.Problems = append(result.Problems, "title is required")
	}

	if w.cfg.MaxTags > 0 {
		var tags []string
		switch {
		case part.Data.ExtendDefaultTags:
			tags = util.DedupeStrings(def.Tags, part.Data.Tags)
		case len(part.Data.Tags) > 0:
			tags = util.DedupeStrings(part.Data.Tags)
		default:
			tags = util.DedupeStrings(def.Tags)
		}
		if len(tags) > w.cfg.MaxTags {
			result.Problems = append(result.Problems,
				fmt.Sprintf("too many tags (%d), at most %d allowed", len(tags), w.cfg.MaxTags))
		}
	}

	if sub.Type == models.SubmissionTypeFile && sub.PrimaryFile == "" {
		result.Problems = append(result.Problems, "a primary file is required")
	}

	description := part.Data.Description
	if part.Data.UseDefaultDescription || description == "" {
		description = def.Description
	}
	if strings.TrimSpace(description) == "" {
		result.Warnings = append(result.Warnings, "description is empty")
	}

	return result
}
