package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/theimaginaryfoundation/wa-digest/digest"
)

// ErrBadEvent marks an event that is not a JSON object.
var ErrBadEvent = errors.New("event is not a JSON object")

// storedEvent is the on-disk shape: the bridge's normalized event plus ts_server.
type storedEvent struct {
	TsServer flexInt `json:"ts_server"`
	Type     string  `json:"type"`
	Chat     struct {
		JID   string `json:"jid"`
		Title string `json:"title"`
		Type  string `json:"type"`
	} `json:"chat"`
	Msg struct {
		ID     string  `json:"id"`
		Ts     flexInt `json:"ts"`
		Sender struct {
			JID  string `json:"jid"`
			Name string `json:"name"`
		} `json:"sender"`
		Text     string `json:"text"`
		HasMedia bool   `json:"has_media"`
	} `json:"msg"`
}

// DecodeRecord parses one stored line into the flattened record the digest reads.
func DecodeRecord(raw []byte) (digest.EventRecord, error) {
	var ev storedEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return digest.EventRecord{}, fmt.Errorf("DecodeRecord: %w", err)
	}

	jid := strings.TrimSpace(ev.Chat.JID)
	if jid == "" {
		jid = "unknown"
	}
	title := strings.TrimSpace(ev.Chat.Title)
	if title == "" {
		title = jid
	}
	sender := strings.TrimSpace(ev.Msg.Sender.Name)
	if sender == "" {
		sender = strings.TrimSpace(ev.Msg.Sender.JID)
	}
	if sender == "" {
		sender = "unknown"
	}
	ts := int64(ev.Msg.Ts)
	if ts == 0 {
		ts = int64(ev.TsServer)
	}

	return digest.EventRecord{
		ServerTimestampMs:  int64(ev.TsServer),
		Type:               ev.Type,
		ConversationID:     jid,
		ConversationTitle:  title,
		MessageTimestampMs: ts,
		SenderLabel:        sender,
		Text:               ev.Msg.Text,
	}, nil
}

// Stamp returns event with ts_server set to tsServer, overriding any value the bridge sent.
func Stamp(tsServer int64, event json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(event)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrBadEvent
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	if obj == nil {
		return nil, ErrBadEvent
	}
	obj["ts_server"] = json.RawMessage(strconv.FormatInt(tsServer, 10))
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("Stamp: %w", err)
	}
	return out, nil
}

// flexInt accepts integers, floats, numeric strings and null.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid timestamp %q", s)
	}
	*f = flexInt(int64(v))
	return nil
}
