package response

import (
	"net/http"

	"alertflow/internal/consts"
	"alertflow/pkg/errors"
	"alertflow/pkg/errors/ecode"
	"github.com/gin-gonic/gin"
)

// 代表响应给客户端的的一个消息结构，包括错误码，错误信息，响应数据
type ApiResponse struct {
	RequestId string      `json:"request_id"` // 请求的唯一ID
	Code      int         `json:"code"`       // 错误码 0表示无错误
	Message   string      `json:"message"`    // 提示信息
	Data      interface{} `json:"data"`       // 响应数据，前端从这个里面取出数据展示
}

// 发送json格式数据
func JSON(c *gin.Context, err error, data interface{}) {
	code, message := errors.DecodeErr(err)
	// 如果code != 0, 失败的话 返回http状态码400
	var httpStatus int
	if code != ecode.Success {
		httpStatus = http.StatusBadRequest
	} else {
		httpStatus = http.StatusOK
	}
	c.JSON(httpStatus, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      code,
		Message:   message,
		Data:      data,
	})
}

// token鉴权失败，返回401
func RequireAuthErr(c *gin.Context, err error) {
	var message string
	if err != nil {
		message = err.Error()
	} else {
		message = "unknow error."
	}
	c.JSON(http.StatusUnauthorized, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      ecode.RequireAuthErr,
		Message:   "invalid token:" + message,
		Data:      nil,
	})
}

// 请求频繁，返回429
func TooManyRequests(c *gin.Context) {
	message := "The request is too frequent. Please try again later."
	c.JSON(http.StatusTooManyRequests, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      ecode.ThrottledErr,
		Message:   message,
		Data:      nil,
	})
}

// NotFound 资源不存在，返回404
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, ApiResponse{
		RequestId: c.GetString(consts.RequestId),
		Code:      ecode.NotFoundErr,
		Message:   message,
		Data:      nil,
	})
}
