package feed

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"optionpool/internal/oracle"
)

func TestClientUpdatesOracle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept ws: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

		// Wait for the subscription before pushing a tick.
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var sub map[string]any
		if err := json.Unmarshal(data, &sub); err != nil || sub["method"] != "subscribe" {
			t.Errorf("expected subscribe message, got %s", data)
			return
		}
		payload, _ := json.Marshal(tick{Symbol: "ETHUSD", Price: "250000000000", TimeMS: 1700000000000})
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return
		}
		<-ctx.Done()
	}))
	defer server.Close()

	priceFeed := oracle.NewFeed(8)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(wsURL, "ETHUSD", 10*time.Millisecond, 0, priceFeed, zap.NewNop())

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	go func() {
		_ = client.Run(runCtx)
	}()

	want := big.NewInt(250000000000)
	deadline := time.After(time.Second)
	for {
		price, err := priceFeed.LatestPrice()
		if err == nil && price.Cmp(want) == 0 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("oracle never saw the tick: price=%v err=%v", price, err)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHandleIgnoresOtherSymbols(t *testing.T) {
	priceFeed := oracle.NewFeed(8)
	client := New("ws://unused", "ETHUSD", time.Second, 0, priceFeed, zap.NewNop())

	payload, _ := json.Marshal(tick{Symbol: "BTCUSD", Price: "9000000000000"})
	if err := client.handle(payload); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := priceFeed.LatestPrice(); err == nil {
		t.Fatal("expected oracle to stay empty for a foreign symbol")
	}
}

func TestHandleRejectsBadPrice(t *testing.T) {
	priceFeed := oracle.NewFeed(8)
	client := New("ws://unused", "ETHUSD", time.Second, 0, priceFeed, zap.NewNop())
	if err := client.handle([]byte(`{"symbol":"ETHUSD","price":"not-a-number"}`)); err == nil {
		t.Fatal("expected error for malformed price")
	}
}
