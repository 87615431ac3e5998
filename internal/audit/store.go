// Package audit implements a thin client for the append-only document
// sink that holds the bridge's searchable audit trail. The sink itself
// (a document-store index, e.g. Elasticsearch-shaped) is an external
// collaborator (spec.md §1); no client SDK for it appears anywhere in
// the reference corpus, so this is a net/http + encoding/json poster
// like the bridge's other thin HTTP collaborators.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Document is one emission's audit row. Fields beyond the ones named in
// spec.md §6 are free-form additions (correlation ID, timestamps).
type Document struct {
	CorrelationID string    `json:"correlationId"`
	SourceNetwork string    `json:"sourceNetwork"`
	SourceTxID    string    `json:"sourceTxId"`
	CounterTxID   string    `json:"counterTxId,omitempty"`
	Requested     string    `json:"requested"`
	Sent          string    `json:"sent"`
	Status        string    `json:"status"`
	ObservedAt    time.Time `json:"observedAt"`
}

// Store posts Documents to a configured index endpoint.
type Store struct {
	Endpoint string
	Index    string
	APIKey   string
	Client   *http.Client
}

func NewStore(endpoint, index, apiKey string) *Store {
	return &Store{Endpoint: endpoint, Index: index, APIKey: apiKey, Client: &http.Client{Timeout: 15 * time.Second}}
}

// Write appends doc to the audit index. A missing endpoint makes this a
// no-op with a debug log line, matching the optional-collaborator
// posture of notify's webhooks.
func (s *Store) Write(ctx context.Context, doc Document) error {
	if s.Endpoint == "" {
		log.Debug("audit write suppressed, no audit endpoint configured", "sourceTxId", doc.SourceTxID)
		return nil
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("audit: marshal document: %w", err)
	}
	url := fmt.Sprintf("%s/%s/_doc", s.Endpoint, s.Index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("audit: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "ApiKey "+s.APIKey)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("audit: write document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("audit: index returned %s", resp.Status)
	}
	return nil
}
