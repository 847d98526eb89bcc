// Package events defines the per-task event types published over Redis and
// their wire framing. Frames use the server-sent-events text format so a
// downstream HTTP gateway can relay them verbatim.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Type string

const (
	TypeInfo          Type = "polymarket_info"
	TypeBook          Type = "polymarket_book"
	TypeSignal        Type = "strategy_signal"
	TypeAutoBuyState  Type = "auto_buy_state"
	TypeAutoSellState Type = "auto_sell_state"
	TypePositionState Type = "position_state"
	TypeTaskStatus    Type = "task_status"
	TypeTaskEnd       Type = "task_end"
)

// Snapshotted reports whether the latest frame of this type is cached in
// Redis so late subscribers can catch up.
func (t Type) Snapshotted() bool {
	switch t {
	case TypeInfo, TypeBook, TypeAutoBuyState, TypePositionState:
		return true
	}
	return false
}

// Encode renders one SSE frame: "event: <type>\ndata: <json>\n\n".
func Encode(t Type, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", t, err)
	}
	var b bytes.Buffer
	b.WriteString("event: ")
	b.WriteString(string(t))
	b.WriteString("\ndata: ")
	b.Write(data)
	b.WriteString("\n\n")
	return b.Bytes(), nil
}

// Decode parses one SSE frame back into its type and raw JSON payload.
func Decode(frame []byte) (Type, json.RawMessage, error) {
	text := strings.TrimRight(string(frame), "\n")
	eventLine, dataLine, found := strings.Cut(text, "\n")
	if !found {
		return "", nil, errors.New("malformed event frame: missing data line")
	}
	name, ok := strings.CutPrefix(eventLine, "event: ")
	if !ok {
		return "", nil, errors.New("malformed event frame: missing event line")
	}
	data, ok := strings.CutPrefix(dataLine, "data: ")
	if !ok {
		return "", nil, errors.New("malformed event frame: missing data line")
	}
	return Type(name), json.RawMessage(data), nil
}
