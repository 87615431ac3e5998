// Package signer implements the remote custodial signing collaborator
// (spec.md §4.6) and the Chain-N transfer serialization gate (§4.5).
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/planetarium/ncg-bridge/internal/bridgeerr"
)

// RemoteSigner signs raw transaction bytes with a named custodial key
// held by a remote HSM/KMS-style service, and resolves that key's
// address. No KMS SDK appears anywhere in the reference corpus, so this
// is a net/http + encoding/json client, the same shape as the bridge's
// other thin HTTP collaborators.
type RemoteSigner struct {
	Endpoint string
	KeyID    string
	Client   *http.Client
}

func NewRemoteSigner(endpoint, keyID string) *RemoteSigner {
	return &RemoteSigner{Endpoint: endpoint, KeyID: keyID, Client: &http.Client{Timeout: 30 * time.Second}}
}

type signRequest struct {
	KeyID         string `json:"keyId"`
	UnsignedTxHex string `json:"unsignedTxHex"`
}

type signResponse struct {
	SignedTxHex string `json:"signedTxHex"`
}

// Sign signs unsignedTxHex and returns the signed transaction hex.
func (s *RemoteSigner) Sign(ctx context.Context, unsignedTxHex string) (string, error) {
	body, err := json.Marshal(signRequest{KeyID: s.KeyID, UnsignedTxHex: unsignedTxHex})
	if err != nil {
		return "", fmt.Errorf("signer: marshal sign request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint+"/sign", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("signer: build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("signer: sign request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("signer: sign endpoint returned %s", resp.Status)
	}
	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("signer: decode sign response: %w", err)
	}
	return out.SignedTxHex, nil
}

type addressResponse struct {
	Address string `json:"address"`
}

// Address resolves the signer address the configured key produces.
func (s *RemoteSigner) Address(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/address?keyId=%s", s.Endpoint, s.KeyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("signer: build address request: %w", err)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("signer: address request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("signer: address endpoint returned %s", resp.Status)
	}
	var out addressResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("signer: decode address response: %w", err)
	}
	return out.Address, nil
}

// VerifyAddress fetches the signer's resolved address and fails fast if
// it does not match expected; a mismatch is a fatal config error
// (spec.md §4.6) because every subsequent transfer would sign with the
// wrong key.
func (s *RemoteSigner) VerifyAddress(ctx context.Context, expected string) error {
	got, err := s.Address(ctx)
	if err != nil {
		return &bridgeerr.FatalConfig{Reason: fmt.Sprintf("could not resolve signer address: %v", err)}
	}
	if !sameAddress(got, expected) {
		return &bridgeerr.FatalConfig{Reason: fmt.Sprintf("signer address %s does not match configured sender %s", got, expected)}
	}
	return nil
}

func sameAddress(a, b string) bool {
	return normalizeHex(a) == normalizeHex(b)
}

func normalizeHex(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '0' && i+1 < len(s) && (s[i+1] == 'x' || s[i+1] == 'X') {
			i++
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
