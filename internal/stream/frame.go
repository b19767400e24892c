package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketpulse/internal/domain"
)

const (
	frameJoin    = "join"
	frameMessage = "message"
)

var ErrMalformedFrame = errors.New("malformed frame")

type outFrame struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

type inFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type priceData struct {
	PoolID    string  `json:"poolId"`
	Price     Price   `json:"price"`
	MarketCap float64 `json:"marketCap"`
}

// Price accepts both a bare number and {"usd": n}
type Price float64

func (p *Price) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = 0
		return nil
	}

	if b[0] == '{' {
		var obj struct {
			USD float64 `json:"usd"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*p = Price(obj.USD)
		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*p = Price(f)
	return nil
}

func joinFrame(poolID string) outFrame {
	return outFrame{Type: frameJoin, Room: domain.MakePoolRoom(poolID)}
}

// ParseFrame decodes one inbound frame. ok is false for well-formed frames of other types.
func ParseFrame(raw []byte, receivedAt time.Time) (upd domain.PriceUpdate, frameType string, ok bool, err error) {
	var f inFrame
	if err = json.Unmarshal(raw, &f); err != nil {
		return upd, "", false, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Type != frameMessage {
		return upd, f.Type, false, nil
	}
	if len(f.Data) == 0 {
		return upd, f.Type, false, fmt.Errorf("%w: message without data", ErrMalformedFrame)
	}

	var d priceData
	if err = json.Unmarshal(f.Data, &d); err != nil {
		return upd, f.Type, false, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if d.PoolID == "" {
		return upd, f.Type, false, fmt.Errorf("%w: missing poolId", ErrMalformedFrame)
	}

	return domain.PriceUpdate{
		PoolID:     d.PoolID,
		Price:      float64(d.Price),
		MarketCap:  d.MarketCap,
		ReceivedAt: receivedAt,
	}, f.Type, true, nil
}
