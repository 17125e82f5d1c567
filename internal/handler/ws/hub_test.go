package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"BollingerChart/internal/domain/models"
	"BollingerChart/internal/usecase"
	xlogger "BollingerChart/pkg/logger"
)

type series []models.Candle

func (s series) Load(context.Context) ([]models.Candle, error) { return s, nil }

type gauge struct {
	mu sync.Mutex
	n  int
}

func (g *gauge) SetSubscribers(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = n
}

func (g *gauge) value() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func setup(t *testing.T, cfg Config) (*Hub, *usecase.ChartUseCase, *gauge, string) {
	t.Helper()
	candles := make(series, 25)
	for i := range candles {
		v := 50 + float64(i%5)
		candles[i] = models.Candle{Timestamp: int64(i + 1), Open: v, High: v, Low: v, Close: v, Volume: 1}
	}
	uc, err := usecase.NewChartUseCase(candles, nil, nil, nil, xlogger.Nop(), usecase.ChartConfig{Inputs: models.DefaultInputParameters()})
	if err != nil {
		t.Fatalf("use case: %v", err)
	}
	if err := uc.LoadSeries(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}

	g := &gauge{}
	hub := NewHub(uc, g, xlogger.Nop(), cfg)
	e := echo.New()
	hub.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
	})
	return hub, uc, g, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string, hdr http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func next(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read: %v", err)
	}
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSnapshotThenUpdates(t *testing.T) {
	hub, uc, g, url := setup(t, Config{})
	conn := dial(t, url, nil)

	snap := next(t, conn)
	if snap.Type != TypeSnapshot {
		t.Fatalf("first frame = %q", snap.Type)
	}
	var ind struct {
		ShortName string            `json:"shortName"`
		Data      []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(snap.Data, &ind); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if ind.ShortName != "BB(20, 2)" || len(ind.Data) != 25 {
		t.Fatalf("snapshot = %+v", ind)
	}
	waitFor(t, func() bool { return hub.Subscribers() == 1 && g.value() == 1 })

	if _, err := uc.UpdateInputs(context.Background(), models.InputParameters{Length: 5, StdDevMultiplier: 1, Source: models.SourceClose}); err != nil {
		t.Fatalf("update inputs: %v", err)
	}
	bands := next(t, conn)
	if bands.Type != TypeBands {
		t.Fatalf("frame = %q, want bands", bands.Type)
	}
	var ev usecase.RecomputeEvent
	if err := json.Unmarshal(bands.Data, &ev); err != nil {
		t.Fatalf("decode bands: %v", err)
	}
	if ev.ShortName != "BB(5, 1)" || len(ev.Points) != 25 || !ev.Points[4].Valid || ev.Points[3].Valid {
		t.Fatalf("event = %+v", ev)
	}

	s := models.DefaultStyleParameters()
	s.Upper.Visible = false
	if err := uc.UpdateStyles(s); err != nil {
		t.Fatalf("update styles: %v", err)
	}
	styles := next(t, conn)
	if styles.Type != TypeStyles {
		t.Fatalf("frame = %q, want styles", styles.Type)
	}
	var su StylesUpdate
	if err := json.Unmarshal(styles.Data, &su); err != nil {
		t.Fatalf("decode styles: %v", err)
	}
	if len(su.Figures) != 2 || len(su.Styles.Areas) != 0 || su.Params.Upper.Visible {
		t.Fatalf("styles update = %+v", su)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, _, g, url := setup(t, Config{})
	conn := dial(t, url, nil)
	next(t, conn)
	waitFor(t, func() bool { return hub.Subscribers() == 1 })

	_ = conn.Close()
	waitFor(t, func() bool { return hub.Subscribers() == 0 && g.value() == 0 })
}

func TestOriginCheck(t *testing.T) {
	_, _, _, url := setup(t, Config{AllowOrigins: []string{"http://chart.local"}})

	if _, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.local"}}); err == nil {
		t.Fatalf("foreign origin accepted")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp = %v, err = %v", resp, err)
	}

	conn := dial(t, url, http.Header{"Origin": {"http://chart.local"}})
	if f := next(t, conn); f.Type != TypeSnapshot {
		t.Fatalf("frame = %q", f.Type)
	}
}

func TestCloseRejectsNewClients(t *testing.T) {
	hub, _, _, url := setup(t, Config{})
	conn := dial(t, url, nil)
	next(t, conn)
	waitFor(t, func() bool { return hub.Subscribers() == 1 })

	_ = hub.Close()
	if hub.Subscribers() != 0 {
		t.Fatalf("subscribers = %d after close", hub.Subscribers())
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the connection to be closed")
	}
}

func TestRegisterQueuesSnapshotBeforeLaterUpdates(t *testing.T) {
	hub, uc, _, _ := setup(t, Config{})
	cl := &client{send: make(chan []byte, 4)}
	if ok, err := hub.register(cl); !ok || err != nil {
		t.Fatalf("register: ok=%v err=%v", ok, err)
	}
	if _, err := uc.UpdateInputs(context.Background(), models.InputParameters{Length: 7, StdDevMultiplier: 2, Source: models.SourceClose}); err != nil {
		t.Fatalf("update inputs: %v", err)
	}

	var frames []frame
	for len(cl.send) > 0 {
		var f frame
		if err := json.Unmarshal(<-cl.send, &f); err != nil {
			t.Fatalf("decode: %v", err)
		}
		frames = append(frames, f)
	}
	if len(frames) != 2 || frames[0].Type != TypeSnapshot || frames[1].Type != TypeBands {
		t.Fatalf("frames = %+v, want snapshot then bands", frames)
	}
	var ev usecase.RecomputeEvent
	if err := json.Unmarshal(frames[1].Data, &ev); err != nil {
		t.Fatalf("decode bands: %v", err)
	}
	if ev.Inputs.Length != uc.Inputs().Length {
		t.Fatalf("last frame length = %d, state = %d", ev.Inputs.Length, uc.Inputs().Length)
	}
}
