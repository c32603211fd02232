package server

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/theimaginaryfoundation/wa-digest/digest"
	"github.com/theimaginaryfoundation/wa-digest/digest/eventlog"
	"github.com/theimaginaryfoundation/wa-digest/digest/ingest"
)

// DebugInfo is echoed by GET /debug.
type DebugInfo struct {
	LogLevel string `json:"log_level"`
	Debug    bool   `json:"debug"`
	LogFile  string `json:"log_file"`
	Backend  string `json:"storage_backend"`
	Events   string `json:"events_path"`
}

// Server holds the collaborators behind the HTTP routes.
type Server struct {
	Store    eventlog.Store
	Ingestor ingest.Ingestor
	Digester digest.Digester

	// LLMDefaults seeds the LLM route; query parameters override individual fields.
	LLMDefaults digest.LLMOptions
	Debug       DebugInfo
	Logger      *slog.Logger
}

// Handler wires all routes and middlewares.
func (s *Server) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(Logger(s.logger()))

	r.GET("/", s.health)
	r.GET("/debug", s.debug)
	r.GET("/_debug/jwt_fp", s.jwtFingerprint)

	r.POST("/ingest/wa", s.ingestWA)
	r.GET("/ingest/_stats", s.ingestStats)
	r.GET("/ingest/_tail", s.ingestTail)

	r.GET("/summary/whatsapp", s.summaryPlain)
	r.GET("/summary/whatsapp_llm", s.summaryLLM)

	return r
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger.With("component", "http")
	}
	return slog.New(slog.DiscardHandler)
}
