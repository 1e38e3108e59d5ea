package ping

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Ping 健康检查，启动探测和负载均衡探活共用
func Ping() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.String(http.StatusOK, "\r\nSuccess")
	}
}
