package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/moltrade/relayer/pkg/store"
)

type relayRequest struct {
	URL string `json:"url"`
}

type relayResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type registerBotRequest struct {
	BotPubkey   string `json:"bot_pubkey"`
	NostrPubkey string `json:"nostr_pubkey"`
	EthAddress  string `json:"eth_address"`
	Name        string `json:"name"`
}

type registerBotResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	PlatformPubkey string `json:"platform_pubkey,omitempty"`
}

type addSubscriptionRequest struct {
	BotPubkey      string `json:"bot_pubkey"`
	FollowerPubkey string `json:"follower_pubkey"`
	SharedSecret   string `json:"shared_secret"`
}

type recordTradeRequest struct {
	BotPubkey      string  `json:"bot_pubkey"`
	FollowerPubkey *string `json:"follower_pubkey,omitempty"`
	Role           string  `json:"role"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Size           float64 `json:"size"`
	Price          float64 `json:"price"`
	TxHash         *string `json:"tx_hash,omitempty"`
	OID            *string `json:"oid,omitempty"`
	IsTest         bool    `json:"is_test"`
}

type updateSettlementRequest struct {
	TxHash *string  `json:"tx_hash,omitempty"`
	OID    *string  `json:"oid,omitempty"`
	Status string   `json:"status"`
	PnL    *float64 `json:"pnl,omitempty"`
	PnLUSD *float64 `json:"pnl_usd,omitempty"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "moltrade-relayer",
	})
}

func (s *Server) status(c echo.Context) error {
	connections := []map[string]string{}
	active := 0
	if s.pool != nil {
		for url, st := range s.pool.GetConnectionStatuses() {
			connections = append(connections, map[string]string{
				"url":    url,
				"status": string(st),
			})
		}
		active = s.pool.ActiveConnections()
	}

	body := map[string]interface{}{
		"active_connections": active,
		"connections":        connections,
	}
	if s.dedupe != nil {
		body["deduplication_engine"] = s.dedupe.GetStats()
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) metricsSummary(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]float64{
		"events_processed_total":    gatherValue("relayer_events_processed_total"),
		"duplicates_filtered_total": gatherValue("relayer_duplicates_filtered_total"),
		"events_in_queue":           gatherValue("relayer_events_in_queue"),
		"active_connections":        gatherValue("relayer_active_connections"),
		"memory_usage_mb":           gatherValue("relayer_memory_usage_kb") / 1024.0,
	})
}

func (s *Server) metricsMemory(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]float64{
		"memory_usage_mb": gatherValue("relayer_memory_usage_kb") / 1024.0,
	})
}

func (s *Server) listRelays(c echo.Context) error {
	relays := []map[string]string{}
	if s.pool != nil {
		for url, st := range s.pool.GetConnectionStatuses() {
			relays = append(relays, map[string]string{
				"url":    url,
				"status": string(st),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"relays": relays,
		"count":  len(relays),
	})
}

func (s *Server) addRelay(c echo.Context) error {
	var req relayRequest
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}

	if err := s.pool.ConnectAndSubscribe(req.URL); err != nil {
		s.logger.Error().Err(err).Str("relay_url", req.URL).Msg("failed to add relay")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to connect to relay")
	}
	return c.JSON(http.StatusOK, relayResponse{Success: true, Message: "connected to " + req.URL})
}

func (s *Server) removeRelay(c echo.Context) error {
	var req relayRequest
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url required")
	}

	if err := s.pool.DisconnectRelay(req.URL); err != nil {
		s.logger.Error().Err(err).Str("relay_url", req.URL).Msg("failed to remove relay")
		return echo.NewHTTPError(http.StatusNotFound, "relay not found")
	}
	return c.JSON(http.StatusOK, relayResponse{Success: true, Message: "disconnected " + req.URL})
}

func (s *Server) registerBot(c echo.Context) error {
	if s.subs == nil {
		return errStoreUnavailable()
	}

	var req registerBotRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}

	if err := s.subs.RegisterBot(req.BotPubkey, req.NostrPubkey, req.EthAddress, req.Name); err != nil {
		s.logger.Error().Err(err).Msg("failed to register bot")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to register bot")
	}

	return c.JSON(http.StatusOK, registerBotResponse{
		Success:        true,
		Message:        "bot registered",
		PlatformPubkey: s.platformPubkey,
	})
}

func (s *Server) addSubscription(c echo.Context) error {
	if s.subs == nil {
		return errStoreUnavailable()
	}

	var req addSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}

	if err := s.subs.AddSubscription(req.BotPubkey, req.FollowerPubkey, req.SharedSecret); err != nil {
		s.logger.Error().Err(err).Msg("failed to add subscription")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to add subscription")
	}
	return c.JSON(http.StatusOK, relayResponse{Success: true, Message: "subscription saved"})
}

func (s *Server) listSubscriptions(c echo.Context) error {
	if s.subs == nil {
		return errStoreUnavailable()
	}

	subs, err := s.subs.ListSubscriptions(c.Param("bot_pubkey"))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list subscriptions")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list subscriptions")
	}

	followers := make([]map[string]string, 0, len(subs))
	for _, sub := range subs {
		followers = append(followers, map[string]string{"follower_pubkey": sub.FollowerPubkey})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"subscriptions": followers})
}

func (s *Server) recordTrade(c echo.Context) error {
	if s.subs == nil {
		return errStoreUnavailable()
	}

	var req recordTradeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}

	err := s.subs.RecordTradeTx(store.TradeInsert{
		BotPubkey:      req.BotPubkey,
		FollowerPubkey: req.FollowerPubkey,
		Role:           req.Role,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Size:           req.Size,
		Price:          req.Price,
		TxHash:         req.TxHash,
		OID:            req.OID,
		IsTest:         req.IsTest,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to record trade")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record trade")
	}
	return c.JSON(http.StatusOK, relayResponse{Success: true, Message: "trade recorded"})
}

func (s *Server) updateSettlement(c echo.Context) error {
	if s.subs == nil {
		return errStoreUnavailable()
	}
	if s.settlementToken != "" && c.Request().Header.Get("X-Settlement-Token") != s.settlementToken {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid settlement token")
	}

	var req updateSettlementRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}

	if err := s.subs.UpdateTradeSettlement(req.TxHash, req.OID, req.Status, req.PnL, req.PnLUSD); err != nil {
		s.logger.Error().Err(err).Msg("failed to update settlement")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update settlement")
	}
	return c.JSON(http.StatusOK, relayResponse{Success: true, Message: "trade settlement updated"})
}

func (s *Server) listCredits(c echo.Context) error {
	if s.subs == nil {
		return errStoreUnavailable()
	}

	rows, err := s.subs.ListCredits(c.QueryParam("bot_pubkey"), c.QueryParam("follower_pubkey"))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list credits")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list credits")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"credits": rows})
}
