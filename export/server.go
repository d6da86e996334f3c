package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/golang/glog"

	"github.com/gwdetchar/omegascan/omega"
)

const (
	contentType = "application/json"

	// CollectEndpoint is where omega-server accepts summaries.
	CollectEndpoint = "omega/v1/collect"

	defaultSendSummaryAmount = 10
	defaultSendAttempts      = 3
)

// CollectResponse is the reply of the collect endpoint.
type CollectResponse struct {
	Status       string `json:"status"`
	SummaryCount int    `json:"summaryCount"`
}

// Server posts summaries in batches to a running omega-server.
type Server struct {
	Server            string
	SendSummaryAmount int
	Client            *http.Client
}

func (s *Server) Write(ctx context.Context, summaries <-chan omega.Summary) error {
	sendSummaryAmount := defaultSendSummaryAmount
	if s.SendSummaryAmount > 0 {
		sendSummaryAmount = s.SendSummaryAmount
	}

	var toSend []omega.Summary
	for summary := range summaries {
		toSend = append(toSend, summary)
		if len(toSend) < sendSummaryAmount {
			continue // not enough summaries to send yet
		}
		if err := s.send(ctx, toSend); err != nil {
			return err
		}
		toSend = nil
	}
	if len(toSend) > 0 {
		return s.send(ctx, toSend)
	}
	return nil
}

func (s *Server) send(ctx context.Context, summaries []omega.Summary) error {
	body, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("error marshalling summaries to JSON: %w", err)
	}

	var resp CollectResponse
	err = retry.Do(
		func() error {
			r, err := s.post(ctx, body)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(defaultSendAttempts),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("error POSTing %d summaries: %w", len(summaries), err)
	}
	glog.Infof("submitted %d summaries to server %s", resp.SummaryCount, s.Server)
	return nil
}

func (s *Server) post(ctx context.Context, body []byte) (CollectResponse, error) {
	var out CollectResponse
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := fmt.Sprintf("%s/%s", strings.TrimRight(s.Server, "/"), CollectEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return out, retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, err
	}
	switch {
	case resp.StatusCode >= 500:
		return out, fmt.Errorf("server returned %s", resp.Status)
	case resp.StatusCode >= 400:
		return out, retry.Unrecoverable(fmt.Errorf("server returned %s: %s", resp.Status, respBody))
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return out, retry.Unrecoverable(fmt.Errorf("unable to parse response: %w", err))
	}
	return out, nil
}
