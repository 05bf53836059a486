package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"agent-trader/internal/audit"
	"agent-trader/internal/broker"
	"agent-trader/internal/engine"
)

// tradeRequest 是决策方提交的交易指令。
type tradeRequest struct {
	Agent  string `json:"agent"`
	Date   string `json:"date"`
	Action string `json:"action"`
	Symbol string `json:"symbol"`
	Amount int    `json:"amount"`
}

type positionResponse struct {
	Positions map[string]float64 `json:"positions"`
	ID        *int               `json:"id,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// tradeErrorResponse 在拒单时回传指令上下文，便于决策方直接修正重发。
type tradeErrorResponse struct {
	Error  string `json:"error"`
	Agent  string `json:"agent,omitempty"`
	Date   string `json:"date,omitempty"`
	Action string `json:"action,omitempty"`
	Symbol string `json:"symbol,omitempty"`
	Amount int    `json:"amount"`
}

// startServer 启动对外 HTTP 服务：交易接口、持仓查询、行情查询与审计事件。
func startServer(ctx context.Context, brk *broker.Broker, auditSvc *audit.Service, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/trades", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req tradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"}, logger)
			return
		}

		var (
			positions map[string]float64
			err       error
		)
		switch strings.ToLower(req.Action) {
		case "buy":
			positions, err = brk.Buy(r.Context(), req.Agent, req.Date, req.Symbol, req.Amount)
		case "sell":
			positions, err = brk.Sell(r.Context(), req.Agent, req.Date, req.Symbol, req.Amount)
		case "short":
			positions, err = brk.Short(r.Context(), req.Agent, req.Date, req.Symbol, req.Amount)
		default:
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "action must be buy, sell or short"}, logger)
			return
		}
		if err != nil {
			writeTradeError(r, w, err, &req, auditSvc, logger)
			return
		}
		writeJSON(w, http.StatusOK, positionResponse{Positions: positions}, logger)
	})

	mux.HandleFunc("/no-trade", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req tradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"}, logger)
			return
		}
		positions, err := brk.RecordNoTrade(r.Context(), req.Agent, req.Date)
		if err != nil {
			writeTradeError(r, w, err, &req, auditSvc, logger)
			return
		}
		writeJSON(w, http.StatusOK, positionResponse{Positions: positions}, logger)
	})

	mux.HandleFunc("/positions/latest", func(w http.ResponseWriter, r *http.Request) {
		positions, id, err := brk.GetLatestPosition(r.Context(), r.URL.Query().Get("agent"), r.URL.Query().Get("date"))
		if err != nil {
			writeTradeError(r, w, err, nil, auditSvc, logger)
			return
		}
		writeJSON(w, http.StatusOK, positionResponse{Positions: positions, ID: &id}, logger)
	})

	mux.HandleFunc("/positions/opening", func(w http.ResponseWriter, r *http.Request) {
		positions, id, err := brk.GetOpeningPosition(r.Context(), r.URL.Query().Get("agent"), r.URL.Query().Get("date"))
		if err != nil {
			writeTradeError(r, w, err, nil, auditSvc, logger)
			return
		}
		writeJSON(w, http.StatusOK, positionResponse{Positions: positions, ID: &id}, logger)
	})

	mux.HandleFunc("/reports/opening", func(w http.ResponseWriter, r *http.Request) {
		report, err := brk.BuildOpeningReport(r.Context(), r.URL.Query().Get("agent"), r.URL.Query().Get("date"))
		if err != nil {
			writeTradeError(r, w, err, nil, auditSvc, logger)
			return
		}
		writeJSON(w, http.StatusOK, report, logger)
	})

	mux.HandleFunc("/reports/performance", func(w http.ResponseWriter, r *http.Request) {
		report, err := brk.PerformanceReport(r.Context(), r.URL.Query().Get("agent"))
		if err != nil {
			writeTradeError(r, w, err, nil, auditSvc, logger)
			return
		}
		writeJSON(w, http.StatusOK, report, logger)
	})

	mux.HandleFunc("/bars/today", func(w http.ResponseWriter, r *http.Request) {
		bars, err := brk.TodayBars(r.Context(), r.URL.Query().Get("symbol"))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()}, logger)
			return
		}
		writeJSON(w, http.StatusOK, bars, logger)
	})

	mux.HandleFunc("/bars/yesterday", func(w http.ResponseWriter, r *http.Request) {
		bars, err := brk.YesterdayBars(r.Context(), r.URL.Query().Get("symbol"))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()}, logger)
			return
		}
		writeJSON(w, http.StatusOK, bars, logger)
	})

	mux.HandleFunc("/flags/consume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		agent := r.URL.Query().Get("agent")
		if agent == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: broker.ErrMissingAgent.Error()}, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"traded": brk.ConsumeTradeFlag(agent)}, logger)
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 200
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		eventType := audit.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = audit.EventType(strings.ToLower(typ))
		}

		events, err := auditSvc.ListEvents(r.Context(), eventType, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, events, logger)
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服务异常", zap.Error(err))
		}
	}()

	logger.Info("交易接口已启动", zap.String("addr", addr))
	return nil
}

func writeTradeError(r *http.Request, w http.ResponseWriter, err error, req *tradeRequest, auditSvc *audit.Service, logger *zap.Logger) {
	switch {
	case errors.Is(err, broker.ErrMissingAgent):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()}, logger)
	case engine.IsRejection(err):
		resp := tradeErrorResponse{Error: err.Error()}
		if req != nil {
			resp.Agent = req.Agent
			resp.Date = req.Date
			resp.Action = req.Action
			resp.Symbol = req.Symbol
			resp.Amount = req.Amount
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp, logger)
	default:
		if auditSvc != nil {
			auditSvc.RecordError(r.Context(), "处理请求失败", err, map[string]interface{}{
				"path": r.URL.Path,
			})
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()}, logger)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("写入响应失败", zap.Error(err))
	}
}
