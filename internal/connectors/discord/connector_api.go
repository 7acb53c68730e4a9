package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const maxResponseBytes = 1 << 20

// call sends a JSON REST request and decodes the response into out.
func (c *Connector) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// upload posts localPath as files[0] alongside a payload_json part.
func (c *Connector) upload(ctx context.Context, path string, payload map[string]any, localPath string, out any) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	reader, writer := io.Pipe()
	form := multipart.NewWriter(writer)
	go func() {
		if err := form.WriteField("payload_json", string(payloadJSON)); err != nil {
			_ = writer.CloseWithError(err)
			return
		}
		part, err := form.CreateFormFile("files[0]", filepath.Base(localPath))
		if err != nil {
			_ = writer.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			_ = writer.CloseWithError(err)
			return
		}
		_ = writer.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, reader)
	if err != nil {
		_ = reader.Close()
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return c.do(req, out)
}

func (c *Connector) do(req *http.Request, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", userAgent)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	bodyBytes, err := readLimited(res.Body, maxResponseBytes)
	if err != nil {
		return fmt.Errorf("read discord response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("discord %s %s failed: status=%d body=%s", req.Method, req.URL.Path, res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("decode discord response: %w", err)
	}
	return nil
}

// sendChannelMessage posts content and returns the new message id. replyTo
// is ignored when empty.
func (c *Connector) sendChannelMessage(ctx context.Context, channelID, content, replyTo string) (string, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return "", fmt.Errorf("discord channel id is required")
	}
	body := map[string]any{"content": clipDiscordMessage(content)}
	if strings.TrimSpace(replyTo) != "" {
		body["message_reference"] = map[string]any{
			"message_id":         replyTo,
			"fail_if_not_exists": false,
		}
		body["allowed_mentions"] = map[string]any{"replied_user": false}
	}
	var sent discordSentMessage
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID), body, &sent); err != nil {
		return "", err
	}
	return sent.ID, nil
}
