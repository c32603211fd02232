package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/theimaginaryfoundation/wa-digest/digest"
	"github.com/theimaginaryfoundation/wa-digest/digest/eventlog"
	"github.com/theimaginaryfoundation/wa-digest/digest/ingest"
)

const maxIngestBodyBytes = 16 << 20

func RespondError(c *gin.Context, msg string, code int) {
	c.JSON(code, gin.H{"error": msg})
}

func RespondSuccess(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func (s *Server) health(c *gin.Context) {
	RespondSuccess(c, gin.H{"ok": true})
}

func (s *Server) debug(c *gin.Context) {
	RespondSuccess(c, s.Debug)
}

// jwtFingerprint lets an operator compare secrets between bridge and server without exposing them.
func (s *Server) jwtFingerprint(c *gin.Context) {
	sum := sha256.Sum256([]byte(s.Ingestor.Secret))
	RespondSuccess(c, gin.H{
		"alg":       "HS256",
		"len":       len(s.Ingestor.Secret),
		"sha256_16": hex.EncodeToString(sum[:])[:16],
	})
}

func (s *Server) ingestWA(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxIngestBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			RespondError(c, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		RespondError(c, "could not read body", http.StatusBadRequest)
		return
	}

	batch, err := ingest.ParseBatch(body)
	if err != nil {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.Ingestor.Ingest(c.Request.Context(), c.GetHeader("Authorization"), batch)
	if err != nil {
		code := ingestStatus(err)
		if code == http.StatusInternalServerError {
			s.logger().Error("ingest failed", "err", err, "request_id", c.GetString(ctxRequestIDKey))
			RespondError(c, "failed to store events", code)
			return
		}
		RespondError(c, err.Error(), code)
		return
	}
	RespondSuccess(c, res)
}

func ingestStatus(err error) int {
	switch {
	case errors.Is(err, ingest.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ingest.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ingest.ErrBatchTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrBadBatch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) ingestStats(c *gin.Context) {
	n, err := s.Store.Count(c.Request.Context())
	if err != nil {
		s.logger().Error("count events failed", "err", err)
		RespondError(c, "failed to count events", http.StatusInternalServerError)
		return
	}
	RespondSuccess(c, gin.H{
		"events_total": n,
		"backend":      s.Store.Backend(),
		"path":         s.Store.Location(),
	})
}

func (s *Server) ingestTail(c *gin.Context) {
	n, ok := intQuery(c, "n", 10)
	if !ok {
		return
	}
	n = min(n, eventlog.MaxTail)
	last, err := s.Store.Tail(c.Request.Context(), n)
	if err != nil {
		s.logger().Error("tail events failed", "err", err)
		RespondError(c, "failed to read events", http.StatusInternalServerError)
		return
	}
	RespondSuccess(c, gin.H{"last": last})
}

func (s *Server) summaryPlain(c *gin.Context) {
	opts := digest.DefaultPlainOptions()
	var ok bool
	if opts.PerConversationLimit, ok = intQuery(c, "limit_per_chat", opts.PerConversationLimit); !ok {
		return
	}

	res, err := s.Digester.Aggregate(c.Request.Context(), c.Query("range"), opts)
	if err != nil {
		s.respondDigestError(c, err)
		return
	}
	RespondSuccess(c, res)
}

func (s *Server) summaryLLM(c *gin.Context) {
	opts := s.LLMDefaults
	if opts == (digest.LLMOptions{}) {
		opts = digest.DefaultLLMOptions()
	}
	var ok bool
	if opts.MaxConversations, ok = intQuery(c, "max_chats", opts.MaxConversations); !ok {
		return
	}
	if opts.PerConversationLimit, ok = intQuery(c, "msgs_per_chat", opts.PerConversationLimit); !ok {
		return
	}
	if opts.BulletsLimit, ok = intQuery(c, "bullets_limit", opts.BulletsLimit); !ok {
		return
	}

	res, err := s.Digester.SummarizeMapReduce(c.Request.Context(), c.Query("range"), opts)
	if err != nil {
		s.respondDigestError(c, err)
		return
	}
	RespondSuccess(c, res)
}

func (s *Server) respondDigestError(c *gin.Context, err error) {
	if errors.Is(err, digest.ErrInvalidRange) {
		RespondError(c, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger().Error("digest failed", "err", err, "request_id", c.GetString(ctxRequestIDKey))
	RespondError(c, "failed to build digest", http.StatusInternalServerError)
}

// intQuery reads an integer query parameter, answering 400 itself when it is malformed.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	v, present := c.GetQuery(name)
	if !present || v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		RespondError(c, name+" must be an integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}
