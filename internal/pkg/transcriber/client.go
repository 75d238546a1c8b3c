package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/errs"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/utils"
	"github.com/pkg/errors"
)

const op = "transcribe"

// Result keeps transcription provider output
type Result struct {
	Text            string  `json:"text"`
	DurationSeconds float64 `json:"durationSeconds"`
	Language        string  `json:"languageDetected"`
}

// Client communicates with the transcription provider
type Client struct {
	httpclient *http.Client
	url        string
	key        string
}

// NewClient creates a transcriber client
func NewClient() (*Client, error) {
	res := Client{}
	var err error
	res.url, err = utils.GetURLFromConfig("transcriber.url")
	if err != nil {
		return nil, err
	}
	res.key = cmdapp.Config.GetString("transcriber.key")
	res.httpclient = &http.Client{}
	return &res, nil
}

// Transcribe sends the audio to the provider and returns text with metadata.
// Network faults and provider 5xx responses are flagged retryable,
// everything else fails permanently
func (c *Client) Transcribe(ctx context.Context, fileName string, audio io.Reader, languageHint string) (*Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, errors.Wrap(err, "Can't add file to request")
	}
	_, err = io.Copy(part, audio)
	if err != nil {
		return nil, errors.Wrap(err, "Can't add file to request")
	}
	if languageHint != "" {
		cmdapp.LogIf(writer.WriteField("language", languageHint))
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	cmdapp.Log.Infof("Sending audio to: %s", utils.URLToLog(c.url))
	resp, err := c.httpclient.Do(req)
	if err != nil {
		// transport level fault - worth a retry
		return nil, errs.NewProvider(op, true, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, errs.NewProvider(op, true, utils.ValidateResponse(resp))
	}
	if err := utils.ValidateResponse(resp); err != nil {
		return nil, errs.NewProvider(op, false, err)
	}

	var res Result
	err = json.NewDecoder(resp.Body).Decode(&res)
	if err != nil {
		return nil, errs.NewProvider(op, false, errors.Wrap(err, "Can't decode response"))
	}
	if res.Text == "" {
		return nil, errs.NewProvider(op, false, errors.New("Empty transcription text"))
	}
	return &res, nil
}
