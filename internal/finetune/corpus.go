package finetune

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/kalambet/fitgate/internal/composer"
	"github.com/kalambet/fitgate/internal/intent"
	"github.com/kalambet/fitgate/internal/proxy"
)

type chatExample struct {
	Messages []proxy.Message `json:"messages"`
}

// Validate checks that records form a usable corpus.
func Validate(records []Record) error {
	if len(records) == 0 {
		return &ValidationError{Index: -1, Reason: "no records"}
	}
	for i, r := range records {
		if err := r.validate(i); err != nil {
			return err
		}
	}
	return nil
}

// EncodeJSONL renders records in the chat fine-tuning format, one
// {"messages":[...]} object per line.
func EncodeJSONL(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		ex := chatExample{Messages: []proxy.Message{
			{Role: "system", Content: r.System},
			{Role: "user", Content: r.User},
			{Role: "assistant", Content: r.Assistant},
		}}
		if err := enc.Encode(ex); err != nil {
			return nil, fmt.Errorf("encoding training record: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// BuildCorpus turns up to target stored, provider-answered interactions into
// training records, oldest first.
func (m *Manager) BuildCorpus(ctx context.Context, target int) ([]Record, error) {
	if target <= 0 {
		target = DefaultCorpusTarget
	}
	rows, err := m.store.TrainingInteractions(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("loading training interactions: %w", err)
	}
	slices.Reverse(rows)

	records := make([]Record, 0, len(rows))
	for _, i := range rows {
		records = append(records, Record{
			System:    composer.SystemPrompt(intent.Category(i.Category)),
			User:      i.Query,
			Assistant: i.Answer,
		})
	}
	return records, nil
}
