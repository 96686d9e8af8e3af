package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"

	"github.com/moltrade/relayer/pkg/dedup"
	"github.com/moltrade/relayer/pkg/fanout"
	"github.com/moltrade/relayer/pkg/log"
	"github.com/moltrade/relayer/pkg/metrics"
	"github.com/moltrade/relayer/pkg/relaypool"
	"github.com/moltrade/relayer/pkg/store"
)

// RelayManager is the pool surface exposed over the admin API
type RelayManager interface {
	ConnectAndSubscribe(url string) error
	DisconnectRelay(url string) error
	ListRelays() []string
	GetConnectionStatuses() map[string]relaypool.Status
	ActiveConnections() int
}

// AdminStore is the store surface exposed over the admin API
type AdminStore interface {
	RegisterBot(botPubkey, nostrPubkey, ethAddress, name string) error
	AddSubscription(botPubkey, followerPubkey, sharedSecret string) error
	ListSubscriptions(botPubkey string) ([]store.Subscription, error)
	RecordTradeTx(t store.TradeInsert) error
	UpdateTradeSettlement(txHash, oid *string, status string, pnl, pnlUSD *float64) error
	ListCredits(botPubkey, followerPubkey string) ([]store.CreditBalance, error)
}

// DedupInspector reports dedup tier sizes for /status
type DedupInspector interface {
	GetStats() dedup.Stats
}

// Server is the admin HTTP surface: health, metrics, relay management, bot
// and subscription administration, and the local WebSocket push endpoint.
type Server struct {
	echo            *echo.Echo
	pool            RelayManager
	dedupe          DedupInspector
	subs            AdminStore
	sink            *fanout.Sink
	platformPubkey  string
	settlementToken string
	logger          zerolog.Logger
}

// Config wires the server's collaborators. A nil Store turns the /api data
// endpoints into 503s; a nil Sink disables /ws.
type Config struct {
	Pool            RelayManager
	Dedup           DedupInspector
	Store           AdminStore
	Sink            *fanout.Sink
	PlatformPubkey  string
	SettlementToken string
}

// NewServer builds the echo application and its routes
func NewServer(cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:            e,
		pool:            cfg.Pool,
		dedupe:          cfg.Dedup,
		subs:            cfg.Store,
		sink:            cfg.Sink,
		platformPubkey:  cfg.PlatformPubkey,
		settlementToken: cfg.SettlementToken,
		logger:          log.WithComponent("api"),
	}

	e.Use(requestMetrics)

	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/status", s.status)
	e.GET("/api/metrics/summary", s.metricsSummary)
	e.GET("/api/metrics/memory", s.metricsMemory)
	e.GET("/api/relays", s.listRelays)
	e.POST("/api/relays/add", s.addRelay)
	e.DELETE("/api/relays/remove", s.removeRelay)
	e.POST("/api/bots/register", s.registerBot)
	e.POST("/api/subscriptions", s.addSubscription)
	e.GET("/api/subscriptions/:bot_pubkey", s.listSubscriptions)
	e.POST("/api/trades/record", s.recordTrade)
	e.POST("/api/trades/settlement", s.updateSettlement)
	e.GET("/api/credits", s.listCredits)

	if s.sink != nil {
		e.GET("/ws", s.pushSocket)
	}

	return s
}

// Start blocks serving HTTP on addr
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("admin API listening")
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the echo instance for tests
func (s *Server) Handler() *echo.Echo {
	return s.echo
}

// requestMetrics counts admin requests by method and status
func requestMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		status := c.Response().Status
		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
		}
		metrics.APIRequestsTotal.WithLabelValues(c.Request().Method, strconv.Itoa(status)).Inc()
		return err
	}
}

// gatherValue reads one scalar metric out of the default registry, summing
// across label sets
func gatherValue(name string) float64 {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return 0
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range family.GetMetric() {
			switch family.GetType() {
			case dto.MetricType_COUNTER:
				total += m.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				total += m.GetGauge().GetValue()
			}
		}
		return total
	}
	return 0
}

func errStoreUnavailable() *echo.HTTPError {
	return echo.NewHTTPError(http.StatusServiceUnavailable, "subscription store not configured")
}
