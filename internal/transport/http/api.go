package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

const (
	identityKey = "auth_identity"

	defaultLeaderboardSize = 10
	maxLeaderboardSize     = 100
)

// API exposes the room use cases over REST.
type API struct {
	service *app.QuizService
}

func NewAPI(service *app.QuizService) *API {
	return &API{service: service}
}

type createRoomRequest struct {
	Code   string             `json:"code"`
	QuizID string             `json:"quizId" binding:"required"`
	Config *domain.RoomConfig `json:"config"`
}

type updateQuizRequest struct {
	QuizID string `json:"quizId" binding:"required"`
}

type submitAnswerRequest struct {
	QuestionIndex *int `json:"questionIndex" binding:"required"`
	Option        *int `json:"option" binding:"required"`
}

// Register mounts the API routes on r. Every route requires a bearer token
// except the public leaderboards.
func (a *API) Register(r gin.IRouter) {
	r.GET("/leaderboard", a.globalLeaderboard)
	r.GET("/leaderboard/rank", a.globalRank)

	rooms := r.Group("/rooms", a.RequireAuth())
	rooms.POST("", a.createRoom)
	rooms.GET("/:code", a.roomSnapshot)
	rooms.GET("/:code/leaderboard", a.roomLeaderboard)
	rooms.PUT("/:code/quiz", a.updateQuiz)
	rooms.POST("/:code/join", a.join)
	rooms.POST("/:code/leave", a.leave)
	rooms.POST("/:code/start", a.start)
	rooms.POST("/:code/end", a.end)
	rooms.POST("/:code/answers", a.submitAnswer)
}

// RequireAuth resolves the bearer token and stores the caller identity.
func (a *API) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorPayload{Code: "unauthenticated", Message: "authorization header required"}})
			return
		}
		caller, err := a.service.Authenticate(c.Request.Context(), token)
		if err != nil {
			a.abort(c, "authenticate", err)
			return
		}
		c.Set(identityKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) domain.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(domain.Identity)
	return id
}

func (a *API) abort(c *gin.Context, op string, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": toPayload(op, err)})
}

func (a *API) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorPayload{Code: "validation", Message: err.Error()}})
		return
	}
	snap, err := a.service.CreateRoom(c.Request.Context(), callerFrom(c), app.CreateRoomRequest{
		Code:   req.Code,
		QuizID: req.QuizID,
		Config: req.Config,
	})
	if err != nil {
		a.abort(c, "create room", err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (a *API) roomSnapshot(c *gin.Context) {
	snap, err := a.service.RoomSnapshot(c.Request.Context(), c.Param("code"))
	if err != nil {
		a.abort(c, "room snapshot", err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (a *API) roomLeaderboard(c *gin.Context) {
	lb, err := a.service.RoomLeaderboard(c.Request.Context(), c.Param("code"))
	if err != nil {
		a.abort(c, "room leaderboard", err)
		return
	}
	c.JSON(http.StatusOK, lb)
}

func (a *API) updateQuiz(c *gin.Context) {
	var req updateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorPayload{Code: "validation", Message: err.Error()}})
		return
	}
	if err := a.service.UpdateRoomQuiz(c.Request.Context(), callerFrom(c), c.Param("code"), req.QuizID); err != nil {
		a.abort(c, "update quiz", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) join(c *gin.Context) {
	p, err := a.service.Join(c.Request.Context(), callerFrom(c), c.Param("code"))
	if err != nil {
		a.abort(c, "join", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (a *API) leave(c *gin.Context) {
	if err := a.service.Leave(c.Request.Context(), callerFrom(c), c.Param("code")); err != nil {
		a.abort(c, "leave", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) start(c *gin.Context) {
	if err := a.service.Start(c.Request.Context(), callerFrom(c), c.Param("code")); err != nil {
		a.abort(c, "start", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) end(c *gin.Context) {
	if err := a.service.End(c.Request.Context(), callerFrom(c), c.Param("code")); err != nil {
		a.abort(c, "end", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) submitAnswer(c *gin.Context) {
	var req submitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorPayload{Code: "validation", Message: err.Error()}})
		return
	}
	rec, err := a.service.SubmitAnswer(c.Request.Context(), callerFrom(c), c.Param("code"), domain.AnswerSubmission{
		QuestionIndex: *req.QuestionIndex,
		Option:        *req.Option,
	})
	if err != nil {
		a.abort(c, "submit answer", err)
		return
	}
	c.JSON(http.StatusOK, answerResult{
		QuestionIndex: rec.QuestionIndex,
		Option:        rec.ChosenOption,
		Correct:       rec.Correct,
		PointsEarned:  rec.PointsEarned,
		TimeTakenMs:   rec.TimeTaken.Milliseconds(),
	})
}

func (a *API) globalLeaderboard(c *gin.Context) {
	k := defaultLeaderboardSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxLeaderboardSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": errorPayload{Code: "validation", Message: "limit must be between 1 and 100"}})
			return
		}
		k = n
	}
	standings, err := a.service.GlobalLeaderboard(c.Request.Context(), k)
	if err != nil {
		a.abort(c, "global leaderboard", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"standings": standings})
}

func (a *API) globalRank(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorPayload{Code: "validation", Message: "missing userId"}})
		return
	}
	rank, err := a.service.GlobalRank(c.Request.Context(), userID)
	if err != nil {
		a.abort(c, "global rank", err)
		return
	}
	c.JSON(http.StatusOK, rank)
}
