package kiwoom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"trend-trader/internal/logger"
	"trend-trader/internal/types"
)

const (
	executedStatus = "체결"
	realTypeOrder  = "00"
	fillBuffer     = 64
)

type wsMessage struct {
	Trnm       string       `json:"trnm"`
	ReturnCode *int         `json:"return_code,omitempty"`
	ReturnMsg  string       `json:"return_msg,omitempty"`
	Data       []wsRealItem `json:"data,omitempty"`
}

type wsRealItem struct {
	Type   string            `json:"type"`
	Item   string            `json:"item"`
	Values map[string]string `json:"values"`
}

// Fills streams execution notices from the Kiwoom websocket. The
// connection logs in, registers for type 00 order events and reconnects
// with backoff until ctx is done; the channel closes then.
func (k *Kiwoom) Fills(ctx context.Context) (<-chan types.Fill, error) {
	if k.p.WebsocketURL == "" {
		return nil, errors.New("kiwoom: websocket url not configured")
	}
	out := make(chan types.Fill, fillBuffer)
	go func() {
		defer close(out)
		b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
		for {
			err := k.streamFills(ctx, out)
			if ctx.Err() != nil {
				return
			}
			wait := b.Duration()
			logger.Warn(ctx, "Fill stream disconnected, reconnecting", "error", fmt.Sprint(err), "wait", wait.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()
	return out, nil
}

func (k *Kiwoom) streamFills(ctx context.Context, out chan<- types.Fill) error {
	token, err := k.accessToken(ctx)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, k.p.WebsocketURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteJSON(map[string]string{"trnm": "LOGIN", "token": token}); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Debug(ctx, "Unreadable websocket frame", "error", err.Error())
			continue
		}

		switch msg.Trnm {
		case "LOGIN":
			if msg.ReturnCode == nil || *msg.ReturnCode != 0 {
				k.invalidateToken(token)
				return fmt.Errorf("login rejected: %w", classify(codeOf(msg.ReturnCode), msg.ReturnMsg))
			}
			if err := conn.WriteJSON(registerOrders()); err != nil {
				return fmt.Errorf("register: %w", err)
			}
			logger.Info(ctx, "Fill stream connected")
		case "PING":
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
		case "REG":
			if msg.ReturnCode != nil && *msg.ReturnCode != 0 {
				return fmt.Errorf("register rejected: %s", msg.ReturnMsg)
			}
		case "REAL":
			for _, item := range msg.Data {
				fill, ok := k.parseFill(item)
				if !ok {
					continue
				}
				select {
				case out <- fill:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func codeOf(c *int) int {
	if c == nil {
		return -1
	}
	return *c
}

func registerOrders() map[string]any {
	return map[string]any{
		"trnm":    "REG",
		"grp_no":  "1",
		"refresh": "1",
		"data": []map[string][]string{
			{"item": {""}, "type": {realTypeOrder}},
		},
	}
}

// parseFill reads a type 00 order event. Only executions become fills;
// acceptance, confirmation and cancel notices are ignored.
func (k *Kiwoom) parseFill(item wsRealItem) (types.Fill, bool) {
	if item.Type != realTypeOrder || item.Values["913"] != executedStatus {
		return types.Fill{}, false
	}
	qty := toInt(item.Values["911"])
	if qty <= 0 {
		return types.Fill{}, false
	}
	code := item.Item
	if code == "" {
		code = item.Values["9001"]
	}
	side := types.SideBuy
	if item.Values["907"] == "1" {
		side = types.SideSell
	}
	return types.Fill{
		OrderID:   item.Values["9203"],
		StockCode: stockCode(code),
		StockName: item.Values["302"],
		Side:      side,
		Qty:       qty,
		Price:     price(item.Values["910"]),
		At:        k.now().In(k.loc),
	}, true
}
