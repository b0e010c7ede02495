package handlers

import (
	"errors"
	"net/http"
	"time"

	"carechat/internal/errs"
	"carechat/internal/models"
	"carechat/internal/msgs"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const contextKeyClaims = "claims"

// Handler holds what every route shares: token verification and per-caller
// request throttling.
type Handler struct {
	jwtSecret []byte
	rps       rate.Limit
	burst     int
	limiters  *expirable.LRU[string, *rate.Limiter]
	logger    zerolog.Logger
}

func NewHandler(jwtSecret []byte, rps float64, burst int, logger zerolog.Logger) *Handler {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Handler{
		jwtSecret: jwtSecret,
		rps:       limit,
		burst:     burst,
		limiters:  expirable.NewLRU[string, *rate.Limiter](10000, nil, 10*time.Minute),
		logger:    logger,
	}
}

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuthorization:
		if errors.Is(err, errs.ErrUnauthorized) || errors.Is(err, errs.ErrInvalidToken) || errors.Is(err, errs.ErrNoCurrentUser) {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindTransient, errs.KindPresence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func currentClaims(ctx *gin.Context) (*models.Claims, error) {
	value, ok := ctx.Get(contextKeyClaims)
	if !ok {
		return nil, errs.ErrNoCurrentUser
	}
	claims, ok := value.(*models.Claims)
	if !ok || claims.ID == 0 {
		return nil, errs.ErrNoCurrentUser
	}
	return claims, nil
}

func respondOK(ctx *gin.Context, status int, message string, data interface{}) {
	ctx.JSON(status, models.Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// respondError writes the failure envelope. Internal errors are logged and
// replaced by a generic text.
func respondError(ctx *gin.Context, logger zerolog.Logger, message string, err error) {
	status := StatusFor(err)
	if status == http.StatusServiceUnavailable && errs.IsTransient(err) {
		message = msgs.MsgTryAgain
	}
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", ctx.FullPath()).Msg("request failed")
		err = errors.New(msgs.MsgInternalError)
	}
	ctx.AbortWithStatusJSON(status, models.Response{
		Success: false,
		Message: message,
		Errors:  errorStrings(err),
	})
}

func respondErrors(ctx *gin.Context, status int, message string, failures []error) {
	texts := make([]string, 0, len(failures))
	for _, failure := range failures {
		texts = append(texts, failure.Error())
	}
	ctx.AbortWithStatusJSON(status, models.Response{
		Success: false,
		Message: message,
		Errors:  texts,
	})
}

func errorStrings(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var texts []string
		for _, inner := range joined.Unwrap() {
			texts = append(texts, inner.Error())
		}
		return texts
	}
	return []string{err.Error()}
}
