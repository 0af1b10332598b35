package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"delaycast/internal/model"

	"github.com/go-playground/validator/v10"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStream() *StreamSource {
	return &StreamSource{config: DefaultConfig(), validate: validator.New()}
}

func collect(t *testing.T, s *StreamSource, raw string) []model.BookUpdate {
	t.Helper()
	out := make(chan model.BookUpdate, 16)
	err := s.handleMessage(context.Background(), []byte(raw), out)
	require.NoError(t, err)
	close(out)

	var got []model.BookUpdate
	for u := range out {
		got = append(got, u)
	}
	return got
}

func val(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func Test_StreamSource_Book(t *testing.T) {
	got := collect(t, newTestStream(), `{
		"event_type":"book","asset_id":"111","timestamp":"1700000000123",
		"bids":[{"price":"0.40","size":"10"},{"price":"0.45","size":"3"}],
		"asks":[{"price":"0.60","size":"1"},{"price":"0.55","size":"2"}]
	}`)

	require.Len(t, got, 1)
	assert.Equal(t, "111", got[0].TokenID)
	assert.Equal(t, 0.45, val(got[0].BestBid))
	assert.Equal(t, 0.55, val(got[0].BestAsk))
	assert.Nil(t, got[0].Last)
	assert.Equal(t, int64(1700000000123), got[0].Timestamp.UnixMilli())
}

func Test_StreamSource_PriceChange(t *testing.T) {
	got := collect(t, newTestStream(), `{
		"event_type":"price_change","timestamp":"1",
		"price_changes":[
			{"asset_id":"111","price":"0.5","side":"BUY","best_bid":"0.48","best_ask":"0.52"},
			{"asset_id":"222","price":"0.5","side":"SELL","best_ask":"0.53"},
			{"asset_id":"222","price":"0.5","side":"SELL"}
		]
	}`)

	require.Len(t, got, 2)
	assert.Equal(t, "111", got[0].TokenID)
	assert.Equal(t, 0.48, val(got[0].BestBid))
	assert.Equal(t, 0.52, val(got[0].BestAsk))
	assert.Equal(t, "222", got[1].TokenID)
	assert.Nil(t, got[1].BestBid)
	assert.Equal(t, 0.53, val(got[1].BestAsk))
}

func Test_StreamSource_LastTradeAndBestBidAsk(t *testing.T) {
	got := collect(t, newTestStream(), `[
		{"event_type":"last_trade_price","asset_id":"111","price":"0.61"},
		{"event_type":"best_bid_ask","asset_id":"222","best_bid":"0.38","best_ask":"0.40"},
		{"event_type":"tick_size_change","asset_id":"222"}
	]`)

	require.Len(t, got, 2)
	assert.Equal(t, 0.61, val(got[0].Last))
	assert.Equal(t, 0.38, val(got[1].BestBid))
	assert.Equal(t, 0.40, val(got[1].BestAsk))
}

func Test_StreamSource_IgnoresTextAndRejectsInvalid(t *testing.T) {
	s := newTestStream()
	out := make(chan model.BookUpdate, 4)

	assert.NoError(t, s.handleMessage(context.Background(), []byte("PONG"), out))
	assert.NoError(t, s.handleMessage(context.Background(), []byte("  "), out))
	assert.Error(t, s.handleMessage(context.Background(), []byte(`{"asset_id":"1"}`), out), "missing event_type")
	assert.Error(t, s.handleMessage(context.Background(), []byte(`{"event_type":"last_trade_price","asset_id":"1","price":"abc"}`), out))
	assert.Error(t, s.handleMessage(context.Background(), []byte(`{"event_type":"last_trade_price","asset_id":"1","price":"1.5"}`), out))
	assert.Error(t, s.handleMessage(context.Background(), []byte(`{"event_type":`), out))
	assert.Empty(t, out)
}

func Test_StreamSource_SubscribeValidatesTokens(t *testing.T) {
	s := newTestStream()

	_, err := s.Subscribe(context.Background(), nil)
	assert.Error(t, err)

	_, err = s.Subscribe(context.Background(), []string{"1", "2", "3"})
	assert.Error(t, err)
}

func Test_StreamSource_EndToEnd(t *testing.T) {
	subscriptions := make(chan string, 1)
	upgrader := gorilla.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, sub, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscriptions <- string(sub)

		conn.WriteMessage(gorilla.TextMessage, []byte(`[{"event_type":"book","asset_id":"111","bids":[{"price":"0.4","size":"1"}],"asks":[{"price":"0.6","size":"1"}]}]`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s, err := NewStreamSource(&Config{WebsocketURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := s.Subscribe(ctx, []string{"111", "222"})
	require.NoError(t, err)

	select {
	case sub := <-subscriptions:
		assert.JSONEq(t, `{"type":"market","assets_ids":["111","222"]}`, sub)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
	}

	select {
	case u := <-updates:
		assert.Equal(t, "111", u.TokenID)
		assert.Equal(t, 0.4, val(u.BestBid))
		assert.Equal(t, 0.6, val(u.BestAsk))
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, open := <-updates:
			return !open
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}
