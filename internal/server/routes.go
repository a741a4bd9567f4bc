package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RegisterRoutes configures all API routes, middleware, and error handlers
func RegisterRoutes(e *echo.Echo, h *Handlers, cfg ServerConfig) {
	// JSON errors everywhere, including router misses and auth failures
	e.HTTPErrorHandler = ErrorHandler(h.Logger, cfg.DevMode)

	e.Use(SetJSONContentType)
	e.Use(SetNoCacheHeaders)

	// Optional API key authentication
	if cfg.APIKey != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:X-API-Key",
			Validator: func(key string, c echo.Context) (bool, error) {
				return key == cfg.APIKey, nil
			},
		}))
	}

	v1 := e.Group("/v1")
	v1.GET("/health", h.Health)

	// Prices, catalog and quotes
	v1.GET("/prices", h.PricesBatch)
	v1.GET("/prices/:ticker", h.Price)
	v1.GET("/tokens", h.Tokens)
	v1.POST("/tokens/info", h.TokensInfo)
	v1.GET("/quote", h.Quote)

	orders := v1.Group("/orders")
	orders.POST("", h.CreateOrder)
	orders.GET("", h.ListOrders)
	orders.GET("/:id", h.GetOrder)
	orders.POST("/:id/match", h.MatchOrder)
	orders.POST("/:id/cancel", h.CancelOrder)
	orders.POST("/:id/complete", h.CompleteOrder)

	if h.Hub != nil {
		v1.GET("/ws", h.Hub.ServeWS)
	}

	// Trading halts need the shared Redis store
	if h.Halts != nil {
		haltGroup := v1.Group("/halts")
		haltGroup.GET("", h.HaltsList)
		haltGroup.GET("/:key", h.HaltsGet)
		haltGroup.PUT("/:key", h.HaltsPut)
		haltGroup.DELETE("/:key", h.HaltsDelete)
	}

	// AI endpoints with rate limiting
	aigroup := v1.Group("/ai")
	aigroup.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(0.2), // 1 request every 5 seconds
		Burst:     2,
		ExpiresIn: 2 * time.Minute,
	})))
	aigroup.POST("/ask", h.AIAsk)

	// Catch-all route for 404 responses
	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Code: http.StatusNotFound})
	})
}
