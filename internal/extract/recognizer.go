package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Entity is one span returned by a named-entity recognizer.
type Entity struct {
	Group string
	Word  string
	Score float64
}

// EntityRecognizer finds drug mentions in text the primary pattern missed.
type EntityRecognizer interface {
	Recognize(ctx context.Context, text string) ([]Entity, error)
}

// HTTPRecognizer calls an external NER service over HTTP.
type HTTPRecognizer struct {
	client *resty.Client
	url    string
}

// NewHTTPRecognizer creates a recognizer posting to url.
func NewHTTPRecognizer(url string, timeout time.Duration, retries int) *HTTPRecognizer {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPRecognizer{client: client, url: url}
}

// entityPayload accepts both the pipeline ("entity_group", "word") and the
// entity-API ("type", "text") field names.
type entityPayload struct {
	EntityGroup string  `json:"entity_group"`
	Type        string  `json:"type"`
	Word        string  `json:"word"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
}

// Recognize posts the text and decodes the entity list.
func (r *HTTPRecognizer) Recognize(ctx context.Context, text string) ([]Entity, error) {
	var payload []entityPayload
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"text": text}).
		SetResult(&payload).
		Post(r.url)
	if err != nil {
		return nil, fmt.Errorf("ner request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ner service returned status %d", resp.StatusCode())
	}

	entities := make([]Entity, 0, len(payload))
	for _, p := range payload {
		e := Entity{Group: p.EntityGroup, Word: p.Word, Score: p.Score}
		if e.Group == "" {
			e.Group = p.Type
		}
		if e.Word == "" {
			e.Word = p.Text
		}
		entities = append(entities, e)
	}
	return entities, nil
}
