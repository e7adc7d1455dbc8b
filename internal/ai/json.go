package ai

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrNoJSON is returned when a response carries no JSON value.
var ErrNoJSON = eris.New("ai: no json in response")

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "```")
	if start < 0 {
		return text
	}
	body := text[start+3:]
	// Drop the language tag line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// balanced returns the first balanced block opened by open, honoring JSON
// string escapes.
func balanced(text string, open, shut byte) (string, bool) {
	start := strings.IndexByte(text, open)
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case shut:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// ExtractJSON pulls the first JSON object out of a model response that may
// wrap it in code fences or prose.
func ExtractJSON(text string) (string, error) {
	if block, ok := balanced(stripFences(text), '{', '}'); ok {
		return block, nil
	}
	return "", ErrNoJSON
}

// ExtractJSONArray is ExtractJSON for a top-level array.
func ExtractJSONArray(text string) (string, error) {
	if block, ok := balanced(stripFences(text), '[', ']'); ok {
		return block, nil
	}
	return "", ErrNoJSON
}

// Decoder turns a raw model response into T, or fails.
type Decoder[T any] func(raw string) (T, error)

// DecodeFirst tries decoders in order and returns the first success.
func DecodeFirst[T any](raw string, decoders ...Decoder[T]) (T, error) {
	var zero T
	var errs []string
	for _, d := range decoders {
		v, err := d(raw)
		if err == nil {
			return v, nil
		}
		errs = append(errs, err.Error())
	}
	if len(errs) == 0 {
		return zero, ErrNoJSON
	}
	return zero, eris.Errorf("ai: no decoder accepted response: %s", strings.Join(errs, "; "))
}

// Object decodes the first JSON object of the response into T and runs
// validate on it, if given.
func Object[T any](validate func(T) error) Decoder[T] {
	return func(raw string) (T, error) {
		var v T
		block, err := ExtractJSON(raw)
		if err != nil {
			return v, err
		}
		if err := json.Unmarshal([]byte(block), &v); err != nil {
			return v, eris.Wrap(err, "ai: decode object")
		}
		if validate != nil {
			if err := validate(v); err != nil {
				return v, err
			}
		}
		return v, nil
	}
}

// Array decodes the first JSON array of the response into []E.
func Array[E any](validate func([]E) error) Decoder[[]E] {
	return func(raw string) ([]E, error) {
		block, err := ExtractJSONArray(raw)
		if err != nil {
			return nil, err
		}
		var v []E
		if err := json.Unmarshal([]byte(block), &v); err != nil {
			return nil, eris.Wrap(err, "ai: decode array")
		}
		if validate != nil {
			if err := validate(v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
}

// Map adapts a Decoder[S] into a Decoder[T].
func Map[S, T any](d Decoder[S], fn func(S) T) Decoder[T] {
	return func(raw string) (T, error) {
		s, err := d(raw)
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(s), nil
	}
}
