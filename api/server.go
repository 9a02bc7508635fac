// Package api is the thin HTTP layer over the query facade. It parses
// parameters, shapes responses and maps the pipeline's error taxonomy to
// status codes; no business logic lives here.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"pricepulse/models"
	"pricepulse/services"
	"pricepulse/storage"
	"pricepulse/utils"
)

// Server serves the product intelligence API.
type Server struct {
	query  *services.Query
	logger *utils.Logger
	engine *gin.Engine
}

// NewServer builds the router over the query facade.
func NewServer(query *services.Query, logger *utils.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		query:  query,
		logger: logger,
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery())

	s.engine.GET("/health", s.health)

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/products/search", s.search)
		v1.GET("/products/:id", s.getProduct)
		v1.GET("/products/:id/price-history", s.priceHistory)
		v1.GET("/products/:id/trend", s.trend)
		v1.GET("/products/:id/sentiment", s.sentiment)
		v1.POST("/products/compare", s.compare)
		v1.GET("/stats/overview", s.stats)
	}
	return s
}

// Run starts the HTTP listener and blocks.
func (s *Server) Run(addr string) error {
	s.logger.Info("[api] Listening on %s", addr)
	return s.engine.Run(addr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// fail writes a structured error response with the taxonomy kind.
func fail(c *gin.Context, err error) {
	type payload struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}

	var (
		nf  *models.NotFoundError
		ic  *models.InvalidComparisonError
		val *models.ValidationError
	)
	switch {
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, payload{Error: err.Error(), Kind: "not_found"})
	case errors.As(err, &ic):
		c.JSON(http.StatusBadRequest, payload{Error: err.Error(), Kind: "invalid_comparison"})
	case errors.As(err, &val):
		c.JSON(http.StatusBadRequest, payload{Error: err.Error(), Kind: "validation"})
	default:
		c.JSON(http.StatusInternalServerError, payload{Error: err.Error(), Kind: "internal"})
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) search(c *gin.Context) {
	f := storage.Filter{
		Query:       c.Query("q"),
		Marketplace: c.Query("marketplace"),
		Category:    c.Query("category"),
		Brand:       c.Query("brand"),
		MinPrice:    queryFloat(c, "min_price"),
		MaxPrice:    queryFloat(c, "max_price"),
		MinRating:   queryFloat(c, "min_rating"),
		SortBy:      c.DefaultQuery("sort_by", "relevance"),
		Limit:       queryInt(c, "limit", 20),
		Offset:      queryInt(c, "offset", 0),
	}

	products, err := s.query.Search(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":   len(products),
		"limit":   f.Limit,
		"offset":  f.Offset,
		"results": products,
	})
}

func (s *Server) getProduct(c *gin.Context) {
	p, err := s.query.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) priceHistory(c *gin.Context) {
	id := c.Param("id")
	days := queryInt(c, "days", 30)

	history, err := s.query.GetPriceHistory(c.Request.Context(), id, days)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id": id,
		"days":       days,
		"history":    history,
	})
}

func (s *Server) trend(c *gin.Context) {
	report, err := s.query.Trend(c.Request.Context(), c.Param("id"), queryInt(c, "days", 30))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) sentiment(c *gin.Context) {
	res, err := s.query.GetSentiment(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) compare(c *gin.Context) {
	var body struct {
		ProductIDs []string `json:"product_ids"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, &models.ValidationError{Field: "product_ids", Detail: err.Error()})
		return
	}

	result, err := s.query.Compare(c.Request.Context(), body.ProductIDs)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) stats(c *gin.Context) {
	overview, err := s.query.StatsOverview(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

func queryFloat(c *gin.Context, key string) float64 {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func queryInt(c *gin.Context, key string, fallback int) int {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
