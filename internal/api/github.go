package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/flowstate/internal/normalize"
)

// GitHub delivery headers.
const (
	HeaderGitHubEvent     = "X-GitHub-Event"
	HeaderGitHubDelivery  = "X-GitHub-Delivery"
	HeaderGitHubSignature = "X-Hub-Signature-256"
)

var errBadSignature = errors.New("signature mismatch")

type githubPayload struct {
	Action     string `json:"action"`
	Ref        string `json:"ref"`
	RefType    string `json:"ref_type"`
	Repository struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		HTMLURL  string `json:"html_url"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
	Commits []struct {
		Message string `json:"message"`
	} `json:"commits"`
	HeadCommit *struct {
		Timestamp time.Time `json:"timestamp"`
	} `json:"head_commit"`
	PullRequest *struct {
		Title   string `json:"title"`
		HTMLURL string `json:"html_url"`
	} `json:"pull_request"`
	Issue *struct {
		Title   string `json:"title"`
		HTMLURL string `json:"html_url"`
	} `json:"issue"`
}

func (h *Handler) githubWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to read body")
		return
	}
	if err := h.verifySignature(r.Header.Get(HeaderGitHubSignature), body); err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	event := strings.TrimSpace(r.Header.Get(HeaderGitHubEvent))
	if event == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing "+HeaderGitHubEvent+" header")
		return
	}
	if event == "ping" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	}

	raw, err := parseGitHubDelivery(event, r.Header.Get(HeaderGitHubDelivery), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	h.ingestRecord(w, r, raw)
}

// verifySignature checks the sha256 HMAC GitHub computes over the raw body.
// Verification is skipped when no secret is configured.
func (h *Handler) verifySignature(header string, body []byte) error {
	if len(h.webhookSecret) == 0 {
		return nil
	}
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return errBadSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return errBadSignature
	}
	mac := hmac.New(sha256.New, h.webhookSecret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errBadSignature
	}
	return nil
}

// SignGitHubPayload returns the X-Hub-Signature-256 value for body.
func SignGitHubPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func parseGitHubDelivery(event, delivery string, body []byte) (normalize.RawInputRecord, error) {
	var p githubPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return normalize.RawInputRecord{}, errors.New("unable to parse webhook payload")
	}

	ev := &normalize.WebhookEvent{
		Event:          event,
		Action:         p.Action,
		Ref:            p.Ref,
		RefType:        p.RefType,
		Repository:     p.Repository.Name,
		RepositoryFull: p.Repository.FullName,
		Sender:         p.Sender.Login,
	}
	for _, c := range p.Commits {
		ev.CommitMessages = append(ev.CommitMessages, c.Message)
	}

	meta := map[string]any{"machine": "github"}
	if p.Repository.HTMLURL != "" {
		meta["url"] = p.Repository.HTMLURL
	}
	switch {
	case p.PullRequest != nil:
		ev.Title = p.PullRequest.Title
		if p.PullRequest.HTMLURL != "" {
			meta["url"] = p.PullRequest.HTMLURL
		}
	case p.Issue != nil:
		ev.Title = p.Issue.Title
		if p.Issue.HTMLURL != "" {
			meta["url"] = p.Issue.HTMLURL
		}
	}

	delivery = strings.TrimSpace(delivery)
	if delivery == "" {
		delivery = uuid.NewString()
	}
	raw := normalize.RawInputRecord{
		ID:       delivery,
		Kind:     normalize.KindWebhook,
		Metadata: meta,
		Webhook:  ev,
	}
	if p.HeadCommit != nil {
		raw.Timestamp = p.HeadCommit.Timestamp
	}
	return raw, nil
}
