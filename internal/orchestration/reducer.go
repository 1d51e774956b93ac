package orchestration

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/capitalize-ai/conversation-actors/internal/model"
)

// Reducer coerces the last produced message of a run into a reply.
type Reducer interface {
	Reduce(ctx context.Context, raw string) (model.Message, error)
}

// ReducerFunc adapts a function to the Reducer interface.
type ReducerFunc func(ctx context.Context, raw string) (model.Message, error)

func (f ReducerFunc) Reduce(ctx context.Context, raw string) (model.Message, error) {
	return f(ctx, raw)
}

var errEmptyOutput = errors.New("agent output is empty")

// TextReducer uses the raw output as the reply text.
type TextReducer struct{}

func (TextReducer) Reduce(_ context.Context, raw string) (model.Message, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return model.Message{}, errEmptyOutput
	}
	return model.NewAssistantMessage(text), nil
}

// JSONReducer parses {"text": "...", "attachments": [...]} from the output,
// either bare or inside a fenced code block. When Lenient is set, output that
// is not a JSON object is used as plain text.
type JSONReducer struct {
	Lenient bool
}

func (r JSONReducer) Reduce(ctx context.Context, raw string) (model.Message, error) {
	doc := ExtractJSON(raw)
	if doc == "" || !gjson.Valid(doc) || !gjson.Parse(doc).IsObject() {
		if r.Lenient {
			return TextReducer{}.Reduce(ctx, raw)
		}
		return model.Message{}, errors.New("agent output is not a JSON object")
	}

	parsed := gjson.Parse(doc)
	text := parsed.Get("text")
	if !text.Exists() || text.Type != gjson.String {
		return model.Message{}, errors.New(`reply is missing a "text" string`)
	}
	if strings.TrimSpace(text.String()) == "" {
		return model.Message{}, errEmptyOutput
	}

	msg := model.NewAssistantMessage(strings.TrimSpace(text.String()))
	attachments := parsed.Get("attachments")
	if attachments.Exists() && !attachments.IsArray() {
		return model.Message{}, errors.New(`reply "attachments" is not an array`)
	}
	for _, a := range attachments.Array() {
		id := a.Get("id").String()
		if id == "" {
			return model.Message{}, errors.New("reply attachment is missing an id")
		}
		msg.Attachments = append(msg.Attachments, model.Attachment{
			ID:          id,
			DisplayName: a.Get("display_name").String(),
			MediaType:   a.Get("media_type").String(),
			Text:        a.Get("text").String(),
		})
	}

	return msg, nil
}

// ExtractJSON returns the JSON document inside raw: the body of the first
// fenced code block if there is one, otherwise the span from the first '{'
// to the last '}'. It returns "" when neither is present.
func ExtractJSON(raw string) string {
	if start := strings.Index(raw, "```"); start >= 0 {
		body := raw[start+3:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end >= 0 {
			return strings.TrimSpace(body[:end])
		}
	}

	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return ""
	}
	return raw[start : end+1]
}
