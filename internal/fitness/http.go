package fitness

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
)

var ErrRatingPending = errors.New("a rating is already pending")

// HTTPRater exposes the pending melody over HTTP and blocks Rate until a
// client posts a rating for it.
type HTTPRater struct {
	mu      sync.Mutex
	seq     uint64
	pending *pendingRating

	engine *gin.Engine
}

type pendingRating struct {
	id    uint64
	req   Request
	reply chan int
}

// CandidateResponse is returned by GET /v1/candidate.
type CandidateResponse struct {
	ID         uint64 `json:"id"`
	Melody     []int  `json:"melody"`
	BPM        int    `json:"bpm"`
	Generation int    `json:"generation"`
	Index      int    `json:"index"`
}

// RatingRequest is the body of POST /v1/ratings. ID is optional; when set it
// must match the pending candidate.
type RatingRequest struct {
	ID     uint64 `json:"id"`
	Rating int    `json:"rating"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHTTPRater() *HTTPRater {
	r := &HTTPRater{engine: gin.New()}
	r.engine.Use(gin.Recovery())
	r.engine.GET("/healthz", r.handleHealth)

	v1 := r.engine.Group("/v1")
	v1.GET("/candidate", r.handleCandidate)
	v1.POST("/ratings", r.handleRating)
	return r
}

func (r *HTTPRater) Handler() http.Handler {
	return r.engine
}

func (r *HTTPRater) Rate(ctx context.Context, req Request) (int, error) {
	p := &pendingRating{req: req, reply: make(chan int, 1)}

	r.mu.Lock()
	if r.pending != nil {
		r.mu.Unlock()
		return 0, ErrRatingPending
	}
	r.seq++
	p.id = r.seq
	r.pending = p
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.pending == p {
			r.pending = nil
		}
		r.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case rating := <-p.reply:
		return rating, nil
	}
}

func (r *HTTPRater) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *HTTPRater) handleCandidate(c *gin.Context) {
	r.mu.Lock()
	p := r.pending
	r.mu.Unlock()

	if p == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, CandidateResponse{
		ID:         p.id,
		Melody:     p.req.Melody,
		BPM:        p.req.BPM,
		Generation: p.req.Generation,
		Index:      p.req.Index,
	})
}

func (r *HTTPRater) handleRating(c *gin.Context) {
	var body RatingRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := CheckRating(body.Rating); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.pending
	if p == nil {
		c.JSON(http.StatusConflict, errorResponse{Error: "no melody is waiting for a rating"})
		return
	}
	if body.ID != 0 && body.ID != p.id {
		c.JSON(http.StatusConflict, errorResponse{Error: "rating does not match the pending melody"})
		return
	}
	p.reply <- body.Rating
	r.pending = nil
	c.JSON(http.StatusOK, gin.H{"status": "accepted", "id": p.id})
}
