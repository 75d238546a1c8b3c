package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/utils"
	"github.com/pkg/errors"
)

// Client pushes completed recordings to the external CRM. The CRM itself is a
// black box behind one POST endpoint
type Client struct {
	httpclient *http.Client
	url        string
	key        string
}

// NewClient creates a CRM client
func NewClient() (*Client, error) {
	res := Client{}
	var err error
	res.url, err = utils.GetURLFromConfig("crm.url")
	if err != nil {
		return nil, err
	}
	res.key = cmdapp.Config.GetString("crm.key")
	res.httpclient = &http.Client{}
	return &res, nil
}

type syncResponse struct {
	Success   bool   `json:"success"`
	RecordRef string `json:"recordRef"`
	Error     string `json:"error"`
}

// Sync sends the mapped payload and returns the external record reference
func (c *Client) Sync(ctx context.Context, payload map[string]interface{}) (string, error) {
	reqBytes, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "Can't prepare CRM payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBytes))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	cmdapp.Log.Infof("Syncing to CRM: %s", utils.URLToLog(c.url))
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "Can't call CRM")
	}
	defer resp.Body.Close()
	if err := utils.ValidateResponse(resp); err != nil {
		return "", errors.Wrap(err, "CRM sync failed")
	}

	var res syncResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", errors.Wrap(err, "Can't decode CRM response")
	}
	if !res.Success {
		return "", errors.New("CRM rejected the record: " + res.Error)
	}
	return res.RecordRef, nil
}
