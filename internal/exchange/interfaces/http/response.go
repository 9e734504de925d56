package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BerkZerker/Market-Sim/internal/exchange/domain"
)

// Response 统一响应信封
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "ok", Data: data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, Response{Code: status, Message: message})
}

// failWith 按领域错误映射 HTTP 状态码
func failWith(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidOrder),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInsufficientShares),
		errors.Is(err, domain.ErrNotFullyFillable):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownTicker),
		errors.Is(err, domain.ErrUnknownUser),
		errors.Is(err, domain.ErrOrderNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		status = http.StatusForbidden
	}
	fail(c, status, err.Error())
}
