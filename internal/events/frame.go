package events

import (
	"encoding/json"
	"strings"
)

// FormatFrame renders one event as a single SSE frame: the JSON encoding of
// the event prefixed by "data: " and terminated by a blank line.
func FormatFrame(e Event) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return "data: " + string(raw) + "\n\n", nil
}

// ParsedEvent is the decoded form of one frame. Data holds the raw payload
// object; strict parsing additionally validates it per variant.
type ParsedEvent struct {
	Type Type
	Data map[string]any
}

// ParseFrame decodes one raw line of the stream. Malformed or blank lines are
// silently dropped (a transport may interleave keep-alive lines), so the
// second return is false rather than an error when nothing was parsed.
func ParseFrame(line string) (*ParsedEvent, bool) {
	s := strings.TrimSpace(line)
	if strings.HasPrefix(s, "data:") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "data:"))
	}
	if s == "" {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, false
	}
	typ, ok := obj["type"].(string)
	if !ok || typ == "" {
		return nil, false
	}
	data, _ := obj["data"].(map[string]any)
	return &ParsedEvent{Type: Type(typ), Data: data}, true
}

// ParseFrameStrict decodes one raw line and additionally checks the payload
// shape of each variant, rejecting non-conforming payloads.
func ParseFrameStrict(line string) (*ParsedEvent, bool) {
	ev, ok := ParseFrame(line)
	if !ok {
		return nil, false
	}
	if !validatePayload(ev.Type, ev.Data) {
		return nil, false
	}
	return ev, true
}

func validatePayload(t Type, d map[string]any) bool {
	switch t {
	case TypePlanStart:
		if !hasString(d, "planId") || !hasString(d, "topic") {
			return false
		}
		if !ValidSkillLevel(stringField(d, "skillLevel")) {
			return false
		}
		if !ValidLearningStyle(stringField(d, "learningStyle")) {
			return false
		}
		if !nonNegative(d, "weeklyHours") {
			return false
		}
		if !optionalNullableString(d, "startDate") || !optionalNullableString(d, "deadlineDate") {
			return false
		}
		if v, present := d["origin"]; present {
			s, ok := v.(string)
			if !ok || !ValidPlanOrigin(s) {
				return false
			}
		}
		return true
	case TypeModuleSummary:
		return hasString(d, "planId") &&
			hasString(d, "title") &&
			nonNegative(d, "index") &&
			nonNegative(d, "estimatedMinutes") &&
			nonNegative(d, "tasksCount") &&
			optionalNullableString(d, "description")
	case TypeProgress:
		if !hasString(d, "planId") || !nonNegative(d, "modulesParsed") {
			return false
		}
		if _, present := d["modulesTotalHint"]; present {
			return nonNegative(d, "modulesTotalHint")
		}
		return true
	case TypeComplete:
		return hasString(d, "planId") &&
			nonNegative(d, "modulesCount") &&
			nonNegative(d, "tasksCount") &&
			nonNegative(d, "durationMs")
	case TypeError:
		if !hasString(d, "code") || !hasString(d, "message") || !hasString(d, "classification") {
			return false
		}
		if _, ok := d["retryable"].(bool); !ok {
			return false
		}
		return optionalNullableString(d, "planId") && optionalString(d, "requestId")
	case TypeCancelled:
		if !hasString(d, "planId") || !hasString(d, "message") {
			return false
		}
		if stringField(d, "classification") != "cancelled" {
			return false
		}
		if retryable, ok := d["retryable"].(bool); !ok || !retryable {
			return false
		}
		return optionalString(d, "requestId")
	default:
		return false
	}
}

func hasString(d map[string]any, key string) bool {
	if d == nil {
		return false
	}
	s, ok := d[key].(string)
	return ok && s != ""
}

func stringField(d map[string]any, key string) string {
	if d == nil {
		return ""
	}
	s, _ := d[key].(string)
	return s
}

func nonNegative(d map[string]any, key string) bool {
	if d == nil {
		return false
	}
	f, ok := d[key].(float64)
	return ok && f >= 0
}

func optionalString(d map[string]any, key string) bool {
	v, present := d[key]
	if !present {
		return true
	}
	_, ok := v.(string)
	return ok
}

func optionalNullableString(d map[string]any, key string) bool {
	v, present := d[key]
	if !present || v == nil {
		return true
	}
	_, ok := v.(string)
	return ok
}
