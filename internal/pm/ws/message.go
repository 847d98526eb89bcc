package ws

import (
	"bytes"
	"encoding/json"
	"strconv"
)

type Kind string

const (
	KindBook        Kind = "book"
	KindPriceChange Kind = "price_change"
	KindLastTrade   Kind = "last_trade_price"
	KindUnknown     Kind = "unknown"
)

// PriceLevel is one quoted level as sent by the venue (decimal strings).
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Values parses the quoted strings. Unparseable values surface as an error
// rather than a silent zero.
func (l PriceLevel) Values() (price, size float64, err error) {
	price, err = strconv.ParseFloat(l.Price, 64)
	if err != nil {
		return 0, 0, err
	}
	size, err = strconv.ParseFloat(l.Size, 64)
	if err != nil {
		return 0, 0, err
	}
	return price, size, nil
}

// BookMessage is a full order-book replacement for one outcome token.
// Older venue payloads used buys/sells, newer ones bids/asks; both are
// accepted.
type BookMessage struct {
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Buys      []PriceLevel `json:"buys"`
	Sells     []PriceLevel `json:"sells"`
}

func (m *BookMessage) BidLevels() []PriceLevel {
	if len(m.Bids) > 0 {
		return m.Bids
	}
	return m.Buys
}

func (m *BookMessage) AskLevels() []PriceLevel {
	if len(m.Asks) > 0 {
		return m.Asks
	}
	return m.Sells
}

// PriceChangeEntry is one incremental level change.
type PriceChangeEntry struct {
	Price string `json:"price"`
	Size  string `json:"size"`
	Side  string `json:"side"`
}

// PriceChangeMessage carries one or more level changes for one outcome
// token. Newer payloads batch them under changes; legacy payloads carry a
// single flat change.
type PriceChangeMessage struct {
	AssetID   string             `json:"asset_id"`
	Market    string             `json:"market"`
	Timestamp string             `json:"timestamp"`
	Changes   []PriceChangeEntry `json:"changes"`
	Price     string             `json:"price"`
	Size      string             `json:"size"`
	Side      string             `json:"side"`
}

func (m *PriceChangeMessage) Entries() []PriceChangeEntry {
	if len(m.Changes) > 0 {
		return m.Changes
	}
	if m.Price == "" {
		return nil
	}
	return []PriceChangeEntry{{Price: m.Price, Size: m.Size, Side: m.Side}}
}

// LastTradeMessage reports the most recent trade for one outcome token.
type LastTradeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Timestamp string `json:"timestamp"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
}

// Message is the tagged union delivered to consumers. Unrecognized or
// unparseable frames become KindUnknown with the raw bytes preserved, so no
// frame is ever dropped at the transport boundary.
type Message struct {
	Kind        Kind
	Book        *BookMessage
	PriceChange *PriceChangeMessage
	LastTrade   *LastTradeMessage
	Raw         json.RawMessage
}

type envelope struct {
	EventType string `json:"event_type"`
}

// Decode turns one websocket frame into messages. Frames may hold a single
// JSON object or a JSON array of objects.
func Decode(frame []byte) []Message {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return []Message{{Kind: KindUnknown, Raw: append([]byte(nil), trimmed...)}}
		}
		msgs := make([]Message, 0, len(items))
		for _, item := range items {
			msgs = append(msgs, decodeOne(item))
		}
		return msgs
	}
	return []Message{decodeOne(trimmed)}
}

func decodeOne(data json.RawMessage) Message {
	raw := append(json.RawMessage(nil), data...)
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{Kind: KindUnknown, Raw: raw}
	}
	switch Kind(env.EventType) {
	case KindBook:
		var m BookMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return Message{Kind: KindUnknown, Raw: raw}
		}
		return Message{Kind: KindBook, Book: &m, Raw: raw}
	case KindPriceChange:
		var m PriceChangeMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return Message{Kind: KindUnknown, Raw: raw}
		}
		return Message{Kind: KindPriceChange, PriceChange: &m, Raw: raw}
	case KindLastTrade:
		var m LastTradeMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return Message{Kind: KindUnknown, Raw: raw}
		}
		return Message{Kind: KindLastTrade, LastTrade: &m, Raw: raw}
	default:
		return Message{Kind: KindUnknown, Raw: raw}
	}
}
