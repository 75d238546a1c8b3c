package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/cmdapp"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/errs"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/persistence"
	"github.com/Tereshaa/DocNexus-Teresha-Assignment/internal/pkg/utils"
	"github.com/pkg/errors"
)

// Client communicates with the analysis provider
type Client struct {
	httpclient   *http.Client
	sentimentURL string
	insightsURL  string
	key          string
}

// NewClient creates an analyzer client
func NewClient() (*Client, error) {
	res := Client{}
	var err error
	res.sentimentURL, err = utils.GetURLFromConfig("analyzer.url.sentiment")
	if err != nil {
		return nil, err
	}
	res.insightsURL, err = utils.GetURLFromConfig("analyzer.url.insights")
	if err != nil {
		return nil, err
	}
	res.key = cmdapp.Config.GetString("analyzer.key")
	res.httpclient = &http.Client{}
	return &res, nil
}

type sentimentResponse struct {
	Overall      string          `json:"overall"`
	Score        float64         `json:"score"`
	Distribution json.RawMessage `json:"distribution"`
	Indicators   json.RawMessage `json:"indicators"`
}

type insightsResponse struct {
	Insights    json.RawMessage `json:"insights"`
	ActionItems json.RawMessage `json:"actionItems"`
}

// AnalyzeSentiment classifies the transcript sentiment
func (c *Client) AnalyzeSentiment(ctx context.Context, text string) (*persistence.Sentiment, error) {
	var raw sentimentResponse
	if err := c.call(ctx, "sentiment", c.sentimentURL, text, &raw); err != nil {
		return nil, err
	}

	res := &persistence.Sentiment{Overall: normalizeOverall(raw.Overall), Score: clampScore(raw.Score)}
	decodeListOrEmpty(raw.Distribution, &res.Distribution)
	decodeListOrEmpty(raw.Indicators, &res.Indicators)
	return res, nil
}

// ExtractInsights pulls key insights and action items from the transcript
func (c *Client) ExtractInsights(ctx context.Context, text string) ([]persistence.Insight, []persistence.ActionItem, error) {
	var raw insightsResponse
	if err := c.call(ctx, "insights", c.insightsURL, text, &raw); err != nil {
		return nil, nil, err
	}

	insights := make([]persistence.Insight, 0)
	actionItems := make([]persistence.ActionItem, 0)
	decodeListOrEmpty(raw.Insights, &insights)
	decodeListOrEmpty(raw.ActionItems, &actionItems)
	return insights, actionItems, nil
}

func (c *Client) call(ctx context.Context, op, urlStr, text string, out interface{}) error {
	reqBytes, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return errors.Wrap(err, "Can't prepare request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(reqBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	cmdapp.Log.Infof("Calling analyzer: %s", utils.URLToLog(urlStr))
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return errs.NewProvider(op, true, err)
	}
	defer resp.Body.Close()
	if err := utils.ValidateResponse(resp); err != nil {
		return errs.NewProvider(op, resp.StatusCode >= 500, err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errs.NewProvider(op, false, errors.Wrap(err, "Can't decode response"))
	}
	return nil
}

// decodeListOrEmpty decodes a provider field that is expected to be structured
// but sometimes arrives as a malformed string. Partial success is preferred
// over a type error: on any decode failure the target keeps its zero value
func decodeListOrEmpty(raw json.RawMessage, out interface{}) {
	if len(raw) == 0 {
		return
	}
	if err := json.Unmarshal(raw, out); err != nil {
		cmdapp.Log.Warnf("Dropping malformed analyzer field: %.60s", string(raw))
	}
}

func normalizeOverall(s string) string {
	switch s {
	case "positive", "negative", "neutral":
		return s
	}
	return "neutral"
}

func clampScore(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
