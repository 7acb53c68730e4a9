package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const maxResponseBytes = 1 << 20

// call posts a JSON body to a Bot API method and decodes the result into out.
func (c *Connector) call(ctx context.Context, method string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, method, out)
}

// upload sends localPath as the multipart field fileField together with the
// plain form fields.
func (c *Connector) upload(ctx context.Context, method string, fields map[string]string, fileField, localPath string, out any) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	reader, writer := io.Pipe()
	form := multipart.NewWriter(writer)
	go func() {
		for key, value := range fields {
			if err := form.WriteField(key, value); err != nil {
				_ = writer.CloseWithError(err)
				return
			}
		}
		part, err := form.CreateFormFile(fileField, filepath.Base(localPath))
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), reader)
	if err != nil {
		_ = reader.Close()
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	return c.do(req, method, out)
}

func (c *Connector) do(req *http.Request, method string, out any) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return err
	}
	res, err := c.apiClient.Do(req)
	if err != nil {
		return withoutURL(method, err)
	}
	defer res.Body.Close()

	bodyBytes, err := ioReadAllLimited(res.Body, maxResponseBytes)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	var response apiResponse
	if err := json.Unmarshal(bodyBytes, &response); err != nil {
		return fmt.Errorf("decode %s: status=%d body=%q err=%w", method, res.StatusCode, strings.TrimSpace(string(bodyBytes)), err)
	}
	if !response.OK {
		description := strings.TrimSpace(response.Description)
		if description == "" {
			description = strings.TrimSpace(string(bodyBytes))
		}
		if response.ErrorCode > 0 {
			return fmt.Errorf("telegram %s failed: status=%d error_code=%d description=%s", method, res.StatusCode, response.ErrorCode, description)
		}
		return fmt.Errorf("telegram %s failed: status=%d description=%s", method, res.StatusCode, description)
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("telegram %s failed: status=%d body=%q", method, res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	if out == nil || len(response.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Connector) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
}

func (c *Connector) fetchBotUsername(ctx context.Context) (string, error) {
	var me telegramUser
	if err := c.call(ctx, "getMe", map[string]any{}, &me); err != nil {
		return "", err
	}
	return strings.TrimSpace(me.Username), nil
}

// sendMessage posts plain text and returns the new message id. replyTo is
// ignored when zero.
func (c *Connector) sendMessage(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error) {
	body := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if replyTo > 0 {
		body["reply_parameters"] = map[string]any{
			"message_id":                  replyTo,
			"allow_sending_without_reply": true,
		}
	}
	var sent telegramMessage
	if err := c.call(ctx, "sendMessage", body, &sent); err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// withoutURL replaces a transport error's URL, which carries the bot token,
// with the Bot API method name.
func withoutURL(method string, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("telegram %s: %w", method, urlErr.Err)
	}
	return err
}
