package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pricewatch/models"
	"pricewatch/services"
	"pricewatch/utils"
)

// Services are the operations the HTTP layer exposes.
type Services struct {
	Submissions *services.SubmissionService
	Ledger      *services.Ledger
	Votes       services.Voter
	Comments    *services.CommentLog
	Views       *services.ViewComposer
}

type Options struct {
	JWTSecret      []byte
	RequestTimeout time.Duration
	Logger         *utils.Logger
}

type API struct {
	engine  *gin.Engine
	svc     Services
	timeout time.Duration
	logger  *utils.Logger
}

func New(svc Services, opts Options) (*API, error) {
	if svc.Submissions == nil || svc.Ledger == nil || svc.Votes == nil || svc.Comments == nil || svc.Views == nil {
		return nil, errors.New("api: all services are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = utils.NewLogger()
	}
	a := &API{svc: svc, timeout: opts.RequestTimeout, logger: logger.With("api")}
	if len(opts.JWTSecret) == 0 {
		a.logger.Warn("JWT_SECRET is empty, authenticated routes will reject every request")
	}
	a.engine = a.setupRouter(opts.JWTSecret)
	return a, nil
}

// Handler exposes the router, mainly for tests.
func (a *API) Handler() http.Handler { return a.engine }

// Run serves on port until ctx is cancelled, then shuts down gracefully.
func (a *API) Run(ctx context.Context, port string) error {
	srv := &http.Server{Addr: ":" + port, Handler: a.engine}

	errC := make(chan error, 1)
	go func() { errC <- srv.ListenAndServe() }()
	a.logger.Info("listening on :%s", port)

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (a *API) setupRouter(secret []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(a.logger))

	// Ping test
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	auth := requireUser(secret)

	r.POST("/prices", auth, a.submitPrice)
	r.GET("/prices/:id", a.getPrice)
	r.POST("/prices/:id/votes", auth, a.castVote)
	r.POST("/prices/:id/comments", auth, a.addComment)
	r.GET("/prices/:id/live", a.live)

	return r
}

// Submit a price; the store and product are created when unknown
func (a *API) submitPrice(c *gin.Context) {
	var in SubmitInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	price, err := in.Price.Decimal()
	if err != nil {
		a.writeError(c, err)
		return
	}

	sub := services.Submission{
		UserID:      authorFrom(c).UserID,
		ProductName: in.Product,
		Brand:       in.Brand,
		Category:    in.Category,
		Barcode:     in.Barcode,
		Image:       in.Image,
		StoreName:   in.Store,
		Address:     in.Address,
		Price:       price,
	}
	switch {
	case in.Latitude != nil && in.Longitude != nil:
		sub.Geo = &models.Geo{Latitude: *in.Latitude, Longitude: *in.Longitude}
	case in.Latitude != nil || in.Longitude != nil:
		a.writeError(c, &models.ValidationError{Field: "geo", Reason: "latitude and longitude must be given together"})
		return
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()
	res, err := a.svc.Submissions.Submit(ctx, sub)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (a *API) getPrice(c *gin.Context) {
	id := c.Params.ByName("id")
	ctx, cancel := a.requestContext(c)
	defer cancel()

	report, err := a.svc.Ledger.Get(ctx, id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	comments, err := a.svc.Comments.List(ctx, id)
	if err != nil {
		a.writeError(c, err)
		return
	}
	if comments == nil {
		comments = []*models.Comment{}
	}
	c.JSON(http.StatusOK, PriceResponse{Report: report, Comments: comments})
}

func (a *API) castVote(c *gin.Context) {
	var in VoteInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	vote, err := models.ParseVoteType(in.Type)
	if err != nil {
		a.writeError(c, err)
		return
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()
	tally, err := a.svc.Votes.CastVote(ctx, c.Params.ByName("id"), authorFrom(c).UserID, vote)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tally)
}

func (a *API) addComment(c *gin.Context) {
	var in CommentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := a.requestContext(c)
	defer cancel()
	comment, err := a.svc.Comments.Add(ctx, c.Params.ByName("id"), authorFrom(c), in.Text)
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (a *API) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(c.Request.Context())
	}
	return context.WithTimeout(c.Request.Context(), a.timeout)
}

func (a *API) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var (
		validation  *models.ValidationError
		permission  *models.PermissionError
		notFound    *models.NotFoundError
		conflict    *models.ConflictError
		unavailable *models.StoreUnavailableError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &permission):
		return http.StatusForbidden
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func requestLogger(logger *utils.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
