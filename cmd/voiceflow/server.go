package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/voiceflow/cache"
	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/cost"
	"github.com/BaSui01/voiceflow/guardrail"
	"github.com/BaSui01/voiceflow/internal/metrics"
	"github.com/BaSui01/voiceflow/internal/store"
	"github.com/BaSui01/voiceflow/llm"
	"github.com/BaSui01/voiceflow/pipeline"
	"github.com/BaSui01/voiceflow/speech"
	"github.com/BaSui01/voiceflow/translation"
	"github.com/BaSui01/voiceflow/tts"
	"github.com/BaSui01/voiceflow/turn"
	"github.com/BaSui01/voiceflow/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 把配置装配成完整的语音对话服务
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	orch *pipeline.Orchestrator
	db   *store.Store
	rdb  *redis.Client

	httpServer *http.Server
}

// NewServer 按配置装配全部组件
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Redis 可选：未配置时缓存与账本镜像降级为进程内
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
	}

	db, err := store.Open(cfg.Database.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	collector := metrics.NewCollector("voiceflow", logger)
	turns := turn.NewManager(logger)
	ledger := cost.NewLedger(rdb, cost.DefaultPricing(), logger)

	sarvamCfg := speech.SarvamConfig{
		BaseURL: cfg.Sarvam.APIBase,
		APIKey:  cfg.Sarvam.APIKey,
		Timeout: cfg.Sarvam.Timeout,
		Logger:  logger,
	}

	providers := map[string]speech.TTSProvider{
		"sarvam": speech.NewSarvamTTS(sarvamCfg, cfg.TTS.DefaultCodec, cfg.TTS.DefaultSampleRate),
	}
	if cfg.ElevenLabs.APIKey != "" {
		eleven, err := speech.NewElevenLabsTTS(speech.ElevenLabsConfig{
			BaseURL:      cfg.ElevenLabs.APIBase,
			APIKey:       cfg.ElevenLabs.APIKey,
			Timeout:      cfg.ElevenLabs.Timeout,
			DefaultCodec: "mp3",
			Logger:       logger,
		})
		if err != nil {
			logger.Warn("ElevenLabs provider disabled", zap.Error(err))
		} else {
			providers["elevenlabs"] = eleven
		}
	}

	synth := tts.NewOrchestrator(providers, cfg.Cache, cfg.TTS, tts.Options{
		AudioCache: cache.NewAudioCache(rdb, cfg.Cache.TTLBalanced, logger),
		Ledger:     ledger,
		Interrupts: turns,
		Metrics:    collector,
		Logger:     logger,
	})

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		STT:                      speech.NewSarvamSTT(sarvamCfg),
		Chat:                     llm.NewSarvamClient(cfg.Sarvam.APIBase, cfg.Sarvam.APIKey, llm.WithTimeout(cfg.Sarvam.Timeout), llm.WithLogger(logger)),
		Translator:               translation.NewSarvamTranslator(cfg.Sarvam.APIBase, cfg.Sarvam.APIKey, translation.DefaultConfig(), logger),
		Synthesis:                synth,
		Guardrails:               guardrail.NewEngine(logger, guardrail.WithSink(db)),
		TextCache:                cache.NewTextCache(rdb, cfg.Cache.TTLBalanced, logger),
		Ledger:                   ledger,
		Turns:                    turns,
		Store:                    db,
		Metrics:                  collector,
		CacheCfg:                 cfg.Cache,
		DefaultOptimizationLevel: cfg.DefaultOptimizationLevel,
		Logger:                   logger,
	})

	return &Server{
		cfg:    cfg,
		logger: logger,
		orch:   orch,
		db:     db,
		rdb:    rdb,
	}, nil
}

// =============================================================================
// 🚀 运行与优雅关闭
// =============================================================================

// Run 启动 HTTP 服务并阻塞到收到终止信号
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("HTTP server started", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}

		if err := s.db.Close(); err != nil {
			s.logger.Error("Database close error", zap.Error(err))
		}
		if s.rdb != nil {
			if err := s.rdb.Close(); err != nil {
				s.logger.Error("Redis close error", zap.Error(err))
			}
		}
		return nil
	})

	return g.Wait()
}

// =============================================================================
// 🌐 路由
// =============================================================================

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/conversation/process", s.handleProcess)
	mux.HandleFunc("POST /v1/conversation/interrupt", s.handleInterrupt)
	mux.HandleFunc("GET /v1/sessions/{id}/cost", s.handleSessionCost)
	mux.HandleFunc("GET /v1/sessions/{id}/metrics", s.handleSessionMetrics)
	mux.HandleFunc("GET /v1/optimization/levels", s.handleOptimizationLevels)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
	)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

// handleProcess 处理一次完整的语音轮次
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.NewError(types.ErrInvalidRequest, "invalid request body"))
		return
	}
	if req.SessionID == "" {
		s.writeError(w, types.NewError(types.ErrInvalidRequest, "session_id is required"))
		return
	}
	if req.AudioB64 == "" && req.AudioURL == "" {
		s.writeError(w, types.NewError(types.ErrInvalidRequest, "either audio_b64 or audio_url is required"))
		return
	}

	result, err := s.orch.ProcessAudio(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type interruptRequest struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id,omitempty"` // 空则打断会话全部在途轮次
	Reason    string `json:"reason,omitempty"`
}

// handleInterrupt 打断在途轮次（用户抢话的 HTTP 入口）
func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	var req interruptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, types.NewError(types.ErrInvalidRequest, "invalid request body"))
		return
	}
	if req.SessionID == "" {
		s.writeError(w, types.NewError(types.ErrInvalidRequest, "session_id is required"))
		return
	}

	reason := parseReason(req.Reason)
	if req.TurnID == "" {
		s.orch.InterruptSession(req.SessionID, reason)
	} else {
		s.orch.InterruptTurn(req.SessionID, req.TurnID, reason)
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "interrupted"})
}

func (s *Server) handleSessionCost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	summary := s.orch.SessionCost(r.Context(), sessionID)
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	m, err := s.db.Metrics(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if m == nil {
		s.writeError(w, types.NewError(types.ErrInvalidRequest, "unknown session").WithHTTPStatus(http.StatusNotFound))
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleOptimizationLevels(w http.ResponseWriter, _ *http.Request) {
	levels := config.Levels()
	profiles := make([]config.OptimizationProfile, 0, len(levels))
	for _, level := range levels {
		profiles = append(profiles, config.ProfileFor(level))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"default": s.cfg.DefaultOptimizationLevel,
		"levels":  profiles,
	})
}

// =============================================================================
// 🔌 WebSocket 打断通道
// =============================================================================

// wsFrame 客户端发来的控制帧
type wsFrame struct {
	Type      string `json:"type"` // interrupt
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// handleWebSocket 接收实时打断帧。
// 语音流仍走 HTTP；这条通道只为抢话信号的低延迟送达。
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	for {
		var frame wsFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}

		switch frame.Type {
		case "interrupt":
			if frame.SessionID == "" {
				_ = wsjson.Write(ctx, conn, map[string]string{"type": "error", "message": "session_id is required"})
				continue
			}
			reason := parseReason(frame.Reason)
			if frame.TurnID == "" {
				s.orch.InterruptSession(frame.SessionID, reason)
			} else {
				s.orch.InterruptTurn(frame.SessionID, frame.TurnID, reason)
			}
			_ = wsjson.Write(ctx, conn, map[string]string{"type": "ack", "session_id": frame.SessionID})
		default:
			_ = wsjson.Write(ctx, conn, map[string]string{"type": "error", "message": "unknown frame type: " + frame.Type})
		}
	}
}

// =============================================================================
// 🔧 响应辅助
// =============================================================================

func parseReason(raw string) turn.Reason {
	switch turn.Reason(raw) {
	case turn.ReasonUserBargeIn, turn.ReasonTimeout, turn.ReasonError, turn.ReasonManual, turn.ReasonReplaced:
		return turn.Reason(raw)
	default:
		return turn.ReasonUserBargeIn
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := types.ErrInternalError
	message := err.Error()

	var appErr *types.Error
	if errors.As(err, &appErr) {
		code = appErr.Code
		message = appErr.Message
		if appErr.HTTPStatus > 0 {
			status = appErr.HTTPStatus
		} else {
			status = statusForCode(appErr.Code)
		}
	}

	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func statusForCode(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrDuplicateTurn:
		return http.StatusConflict
	case types.ErrUnknownTurn:
		return http.StatusNotFound
	case types.ErrProviderFailure:
		return http.StatusBadGateway
	case types.ErrInterrupted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
