package blockfeed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gswapcopy/internal/domain"
)

// envelope is the outer frame. The explorer names the channel either
// "topic" or "event" depending on the message kind.
type envelope struct {
	Topic string          `json:"topic"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (e envelope) channel() string {
	if e.Topic != "" {
		return e.Topic
	}
	return e.Event
}

type wireBlock struct {
	BlockNumber  flexUint          `json:"blockNumber"`
	Timestamp    flexTime          `json:"timestamp"`
	CreatedAt    flexTime          `json:"createdAt"`
	Transactions []wireTransaction `json:"transactions"`
}

type wireTransaction struct {
	ID      string       `json:"id"`
	TxID    string       `json:"txId"`
	Actions []wireAction `json:"actions"`
}

type wireAction struct {
	Args              []json.RawMessage `json:"args"`
	ChaincodeResponse *wireResponse     `json:"chaincodeResponse"`
}

type wireResponse struct {
	Status  flexUint        `json:"status"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

// decodeFrame projects one websocket frame into zero or more blocks. ok is
// false when the frame is not a block frame for topic.
func decodeFrame(topic string, frame []byte) (blocks []domain.Block, ok bool, err error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || frame[0] != '{' && frame[0] != '[' {
		return nil, false, nil
	}

	data := json.RawMessage(frame)
	if frame[0] == '{' {
		var env envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			return nil, false, fmt.Errorf("decode envelope: %w", err)
		}
		if ch := env.channel(); ch != "" && ch != topic {
			return nil, false, nil
		}
		if len(env.Data) > 0 {
			data = env.Data
		}
	}

	wire, err := decodeWireBlocks(data)
	if err != nil {
		return nil, false, err
	}

	for _, wb := range wire {
		if wb.BlockNumber == 0 && len(wb.Transactions) == 0 {
			continue
		}
		blocks = append(blocks, wb.toDomain())
	}
	return blocks, len(blocks) > 0, nil
}

func decodeWireBlocks(data []byte) ([]wireBlock, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	switch data[0] {
	case '"':
		// Double-encoded payload.
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode block string: %w", err)
		}
		if s = strings.TrimSpace(s); s == "" || s[0] == '"' {
			return nil, nil
		}
		return decodeWireBlocks([]byte(s))
	case '[':
		var arr []wireBlock
		if err := json.Unmarshal(data, &arr); err != nil {
			return nil, fmt.Errorf("decode block array: %w", err)
		}
		return arr, nil
	case '{':
		var one wireBlock
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}
		return []wireBlock{one}, nil
	default:
		return nil, nil
	}
}

func (wb wireBlock) toDomain() domain.Block {
	ts := time.Time(wb.Timestamp)
	if ts.IsZero() {
		ts = time.Time(wb.CreatedAt)
	}

	b := domain.Block{
		Number:       uint64(wb.BlockNumber),
		Timestamp:    ts,
		Transactions: make([]domain.Transaction, 0, len(wb.Transactions)),
	}

	for _, wt := range wb.Transactions {
		tx := domain.Transaction{ID: wt.ID}
		if tx.ID == "" {
			tx.ID = wt.TxID
		}
		for _, wa := range wt.Actions {
			a := domain.Action{Args: make([]string, 0, len(wa.Args))}
			for _, raw := range wa.Args {
				a.Args = append(a.Args, rawText(raw))
			}
			if r := wa.ChaincodeResponse; r != nil {
				a.ChaincodeResponse = &domain.ChaincodeResponse{
					Status:  int(r.Status),
					Message: r.Message,
					Payload: rawText(r.Payload),
				}
			}
			tx.Actions = append(tx.Actions, a)
		}
		b.Transactions = append(b.Transactions, tx)
	}

	return b
}

// rawText returns a JSON string's contents, or the raw JSON text for any
// other value.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// flexUint accepts a JSON number or a numeric string.
type flexUint uint64

func (f *flexUint) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		*f = flexUint(n)
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return fmt.Errorf("invalid number %q", s)
	}
	*f = flexUint(v)
	return nil
}

// flexTime accepts RFC3339 strings and unix seconds or milliseconds given
// as numbers or numeric strings.
type flexTime time.Time

func (f *flexTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = flexTime{}
		return nil
	}

	if v, err := strconv.ParseFloat(s, 64); err == nil {
		if v > 1e12 {
			*f = flexTime(time.UnixMilli(int64(v)).UTC())
		} else {
			*f = flexTime(time.Unix(int64(v), 0).UTC())
		}
		return nil
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", s)
	}
	*f = flexTime(t.UTC())
	return nil
}
