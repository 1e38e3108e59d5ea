package router

import (
	"github.com/gin-gonic/gin"

	"alertflow/internal/handler/inapp"
	"alertflow/internal/handler/ping"
	"alertflow/internal/handler/rule"
	"alertflow/internal/middleware"
)

type ApiRouter struct {
	ruleHandler *rule.Handler
	gateway     *inapp.Gateway
}

func NewApiRouter(rh *rule.Handler, gw *inapp.Gateway) *ApiRouter {
	return &ApiRouter{ruleHandler: rh, gateway: gw}
}

func (api *ApiRouter) Load(g *gin.Engine) {
	g.Use(middleware.RequestId(), middleware.Logger, middleware.Options(), middleware.Secure())

	g.GET("/ping", ping.Ping())

	base := g.Group("/api/v1")

	a := base.Group("/alerts", middleware.AuthToken())
	{
		a.POST("", middleware.AntiDuplicate(), api.ruleHandler.RuleCreate())
		a.GET("", api.ruleHandler.RuleGetList())
		a.GET("/:id", api.ruleHandler.RuleGet())
		a.PUT("/:id", api.ruleHandler.RuleUpdate())
		a.DELETE("/:id", api.ruleHandler.RuleDelete())
		a.POST("/:id/enable", api.ruleHandler.RuleEnable())
		a.POST("/:id/disable", api.ruleHandler.RuleDisable())

		// 审计读模型
		a.GET("/history/triggers", api.ruleHandler.TriggerHistoryGet())
		a.GET("/history/triggers/:trigger_id/deliveries", api.ruleHandler.DeliveryHistoryGet())
	}

	// in_app实时推送，websocket连接不做防抖
	base.GET("/alerts/ws", middleware.AuthToken(), api.gateway.ServeWS)
}
