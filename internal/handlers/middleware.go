package handlers

import (
	"net/http"
	"strconv"

	"carechat/internal/errs"
	"carechat/internal/models"
	"carechat/internal/msgs"
	"carechat/internal/utils"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// MustAuthenticateMiddleware accepts a bearer token from the Authorization
// header, or from the token query parameter for websocket clients that
// cannot set headers.
func (h *Handler) MustAuthenticateMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		jwtToken := ctx.GetHeader("Authorization")
		if jwtToken == "" {
			jwtToken = ctx.Query("token")
		}
		if jwtToken == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, models.Response{
				Success: false,
				Message: msgs.MsgYouMustLoginFirst,
				Errors:  []string{errs.ErrUnauthorized.Error()},
			})
			return
		}

		claims, err := utils.VerifyToken(jwtToken, h.jwtSecret)
		if err != nil {
			h.logger.Debug().Err(err).Str("client_ip", ctx.ClientIP()).Msg("token rejected")
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, models.Response{
				Success: false,
				Message: msgs.MsgYouMustLoginFirst,
				Errors:  []string{errs.ErrUnauthorized.Error()},
			})
			return
		}

		ctx.Set(contextKeyClaims, claims)
		ctx.Next()
	}
}

// RateLimitMiddleware throttles per authenticated user, falling back to the
// client address.
func (h *Handler) RateLimitMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		key := "ip:" + ctx.ClientIP()
		if claims, err := currentClaims(ctx); err == nil {
			key = "user:" + strconv.FormatUint(uint64(claims.ID), 10)
		}

		limiter, ok := h.limiters.Get(key)
		if !ok {
			limiter = rate.NewLimiter(h.rps, h.burst)
			h.limiters.Add(key, limiter)
		}
		if !limiter.Allow() {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, models.Response{
				Success: false,
				Message: msgs.MsgTooManyRequests,
			})
			return
		}
		ctx.Next()
	}
}
