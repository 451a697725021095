// Package judge batches unclassified messages through the external
// judgment engine and guarantees a verdict for every input.
//
// The failure policy is fail-open, uniformly: when the engine cannot be
// reached, answers garbage, or skips an id, the affected messages are
// marked high importance with notify set. A missed important message is
// worse than a spurious digest entry the operator can dismiss in one
// action; this bias is deliberate product behavior, not a bug.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mailminder/core/internal/model"
)

const systemPrompt = `You are an email triage judge. For each message you receive, decide how important it is to the mailbox owner.

Respond with ONLY a JSON array, one object per message, using exactly this schema:
[{"id": "<message id>", "importance": "high|medium|low", "reason": "<one sentence>", "notify": true|false}]

Guidance:
- high: needs the owner's attention or action soon (deadlines, direct personal requests, money, access, legal)
- medium: worth seeing in a digest but not urgent
- low: newsletters, promotions, automated noise
- notify should be true only for high importance messages worth an immediate push`

// CompletionClient is the judgment engine seam; *Client satisfies it
type CompletionClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
	IsConfigured() bool
}

// Batcher classifies message batches. It assumes the caller already
// capped the batch size.
type Batcher struct {
	client CompletionClient
}

// NewBatcher creates a Batcher on top of a completion client
func NewBatcher(client CompletionClient) *Batcher {
	return &Batcher{client: client}
}

// Classify returns exactly one verdict per input message, in input
// order, always. It never returns an error: every failure mode
// degrades to fail-open verdicts.
func (b *Batcher) Classify(ctx context.Context, batch []model.MessageRecord) []model.Verdict {
	if len(batch) == 0 {
		return []model.Verdict{}
	}

	if !b.client.IsConfigured() {
		return failOpenAll(batch, "judgment engine not configured")
	}

	response, err := b.client.Complete(ctx, systemPrompt, buildUserPrompt(batch))
	if err != nil {
		log.Printf("[Judge] Classification call failed: %v", err)
		return failOpenAll(batch, "judgment call failed")
	}

	parsed, ok := parseVerdicts(response)
	if !ok {
		log.Printf("[Judge] Unparseable classification response (%d bytes)", len(response))
		return failOpenAll(batch, "judgment response unparseable")
	}

	verdicts := make([]model.Verdict, 0, len(batch))
	for _, msg := range batch {
		raw, found := parsed[msg.MessageID]
		if !found {
			// One missing id fails open independently of the rest.
			verdicts = append(verdicts, failOpen(msg.MessageID, "judgment response missing this message"))
			continue
		}
		verdicts = append(verdicts, coerce(msg.MessageID, raw))
	}
	return verdicts
}

// buildUserPrompt enumerates the key fields of every message
func buildUserPrompt(batch []model.MessageRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Judge these %d messages:\n", len(batch))
	for i, msg := range batch {
		fmt.Fprintf(&sb, "\n--- Message %d ---\n", i+1)
		fmt.Fprintf(&sb, "id: %s\n", msg.MessageID)
		fmt.Fprintf(&sb, "account: %s\n", msg.Account)
		fmt.Fprintf(&sb, "from: %s\n", msg.From)
		fmt.Fprintf(&sb, "subject: %s\n", msg.Subject)
		fmt.Fprintf(&sb, "date: %s\n", msg.Date.Format("2006-01-02 15:04"))
		fmt.Fprintf(&sb, "thread length: %d\n", msg.ThreadLen)
		if msg.HasAttachments {
			sb.WriteString("has attachments\n")
		}
		fmt.Fprintf(&sb, "body:\n%s\n", msg.Body)
	}
	return sb.String()
}

// rawVerdict tolerates wrong types in individual fields; coercion
// happens per field rather than rejecting the whole entry.
type rawVerdict struct {
	ID         string `json:"id"`
	Importance any    `json:"importance"`
	Reason     any    `json:"reason"`
	Notify     any    `json:"notify"`
}

// parseVerdicts permissively extracts the verdict array: optional code
// fences are stripped, then a structured parse is attempted. Returns
// false when nothing usable came back (empty text, non-JSON, non-array).
func parseVerdicts(response string) (map[string]rawVerdict, bool) {
	text := stripCodeFence(strings.TrimSpace(response))
	if text == "" {
		return nil, false
	}

	var entries []rawVerdict
	if err := json.Unmarshal([]byte(text), &entries); err != nil {
		return nil, false
	}

	byID := make(map[string]rawVerdict, len(entries))
	for _, entry := range entries {
		if entry.ID != "" {
			byID[entry.ID] = entry
		}
	}
	return byID, true
}

// stripCodeFence removes a ```json ... ``` wrapper if present
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

// coerce normalizes one parsed entry into a Verdict, failing each bad
// field open: unknown importance becomes high, non-boolean notify
// becomes true, missing reason gets a placeholder.
func coerce(messageID string, raw rawVerdict) model.Verdict {
	verdict := model.Verdict{
		MessageID:  messageID,
		Importance: model.ImportanceHigh,
		Reason:     "no reason provided",
		Notify:     true,
	}

	if s, ok := raw.Importance.(string); ok {
		tier := model.Importance(strings.ToLower(strings.TrimSpace(s)))
		if tier.IsValid() {
			verdict.Importance = tier
		}
	}
	if b, ok := raw.Notify.(bool); ok {
		verdict.Notify = b
	}
	if s, ok := raw.Reason.(string); ok && strings.TrimSpace(s) != "" {
		verdict.Reason = s
	}
	return verdict
}

func failOpen(messageID, reason string) model.Verdict {
	return model.Verdict{
		MessageID:  messageID,
		Importance: model.ImportanceHigh,
		Reason:     reason,
		Notify:     true,
	}
}

func failOpenAll(batch []model.MessageRecord, reason string) []model.Verdict {
	verdicts := make([]model.Verdict, 0, len(batch))
	for _, msg := range batch {
		verdicts = append(verdicts, failOpen(msg.MessageID, reason))
	}
	return verdicts
}
