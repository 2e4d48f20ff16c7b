package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"redis-tester/internal/cluster"
	"redis-tester/internal/config"
	"redis-tester/internal/events"
	"redis-tester/internal/logger"
	"redis-tester/internal/metrics"
	"redis-tester/internal/result"
	"redis-tester/internal/scenario"
	"redis-tester/internal/workload"
)

// Route は公開しているエンドポイント
type Route struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Routes は /api/routes が返す一覧
var Routes = []Route{
	{http.MethodGet, "/api/routes", "List of routes"},
	{http.MethodGet, "/api/singleclient/{datatype}/{load}", "Single client test"},
	{http.MethodGet, "/api/singleclient/failover/{datatype}/{load}", "Single client test with primary outage"},
	{http.MethodGet, "/api/multipleclients/{datatype}/{load}", "Parallel client test"},
	{http.MethodGet, "/api/multipleclients/failover/{datatype}/{load}", "Parallel client test with primary outage"},
	{http.MethodGet, "/api/flush", "Flush every primary"},
	{http.MethodGet, "/api/status", "Engine status and last result"},
	{http.MethodGet, "/api/presets", "Scenario kinds"},
	{http.MethodGet, "/metrics", "Prometheus metrics"},
	{http.MethodGet, "/ws", "Run event stream (websocket)"},
}

// Server は API サーバー
type Server struct {
	addr     string
	engine   *scenario.Engine
	metrics  *metrics.Metrics
	eventBus *events.Bus
	cluster  *cluster.Cluster

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しい API サーバーを作成する
func NewServer(addr string, engine *scenario.Engine) *Server {
	return &Server{
		addr:      addr,
		engine:    engine,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// SetMetrics は /metrics と /api/status で公開するメトリクスを設定する
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// SetEventBus は /ws に流すイベントバスを設定する
func (s *Server) SetEventBus(bus *events.Bus) {
	s.eventBus = bus
}

// SetCluster はサンドボックスのクラスタを設定する（/api/status にノード状態が載る）
func (s *Server) SetCluster(c *cluster.Cluster) {
	s.cluster = c
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/routes", s.handleRoutes)
	mux.HandleFunc("GET /api/singleclient/{datatype}/{load}", s.handleRun(scenario.KindSingle))
	mux.HandleFunc("GET /api/singleclient/failover/{datatype}/{load}", s.handleRun(scenario.KindSingleFailover))
	mux.HandleFunc("GET /api/multipleclients/{datatype}/{load}", s.handleRun(scenario.KindParallel))
	mux.HandleFunc("GET /api/multipleclients/failover/{datatype}/{load}", s.handleRun(scenario.KindParallelFailover))
	mux.HandleFunc("GET /api/flush", s.handleFlush)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/presets", s.handlePresets)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// Start はサーバーを開始し、ctx が終わるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.broadcastLoop(ctx)

	logger.Info("", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, Routes)
}

// handleRun は種類ごとの試験ハンドラを返す
func (s *Server) handleRun(kind scenario.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		load, err := strconv.Atoi(r.PathValue("load"))
		if err != nil || load < 1 {
			s.writeError(w, http.StatusBadRequest, "load must be a positive integer")
			return
		}

		res, err := s.engine.Run(r.Context(), string(kind), r.PathValue("datatype"), load)
		code := statusCode(err)
		if res == nil {
			s.writeError(w, code, err.Error())
			return
		}
		if err != nil {
			logger.Warn("", "%s %s/%d: %v", kind, r.PathValue("datatype"), load, err)
		}
		s.writeJSON(w, code, res)
	}
}

// statusCode はエンジンのエラーを HTTP ステータスに変換する
// 終端結果を伴うエラーでも本文には結果を返す
func statusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, workload.ErrUnknownDataType), errors.Is(err, workload.ErrInvalidLoad):
		return http.StatusBadRequest
	case errors.Is(err, scenario.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, config.ErrInvalid):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FlushResponse はフラッシュ結果
type FlushResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	status := s.engine.Flush(r.Context())
	code := http.StatusOK
	if status != result.StatusFlushed {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, FlushResponse{Status: status})
}

// NodeInfo はサンドボックスノードの情報
type NodeInfo struct {
	ID      string `json:"id"`
	Addr    string `json:"addr"`
	Status  string `json:"status"`
	Primary bool   `json:"primary"`
	Size    int    `json:"size"`
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Running    bool              `json:"running"`
	LastResult *result.RunResult `json:"lastResult,omitempty"`
	Metrics    *metrics.Snapshot `json:"metrics,omitempty"`
	Nodes      []NodeInfo        `json:"nodes,omitempty"`
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{
		Running:    s.engine.IsRunning(),
		LastResult: s.engine.LastResult(),
	}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		resp.Metrics = &snap
	}
	if s.cluster != nil {
		for _, n := range s.cluster.Nodes() {
			resp.Nodes = append(resp.Nodes, NodeInfo{
				ID:      n.ID(),
				Addr:    n.Addr(),
				Status:  n.Status().String(),
				Primary: n.IsPrimary(),
				Size:    n.Size(),
			})
		}
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, scenario.Presets())
}

// wsMessage は /ws に送るメッセージ
type wsMessage struct {
	Type   string          `json:"type"`
	Event  *events.Event   `json:"event,omitempty"`
	Status *StatusResponse `json:"status,omitempty"`
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(msg wsMessage) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(data))
	}
}

// broadcastLoop はイベントをそのまま、実行中のステータスを1秒ごとに配信する
func (s *Server) broadcastLoop(ctx context.Context) {
	var eventCh <-chan events.Event
	if s.eventBus != nil {
		eventCh = s.eventBus.Subscribe()
		defer s.eventBus.Unsubscribe(eventCh)
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			s.broadcast(wsMessage{Type: "event", Event: &ev})
		case <-ticker.C:
			if !s.engine.IsRunning() {
				continue
			}
			status := s.status()
			s.broadcast(wsMessage{Type: "status", Status: &status})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
