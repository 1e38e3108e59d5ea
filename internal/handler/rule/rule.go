package rule

import (
	"github.com/gin-gonic/gin"

	"alertflow/internal/consts"
	"alertflow/internal/service"
	"alertflow/pkg/errors"
	"alertflow/pkg/errors/ecode"
	"alertflow/pkg/response"
	"alertflow/pkg/validator"
)

// Handler 规则管理接口
type Handler struct {
	svc *service.RuleService
}

func NewHandler(svc *service.RuleService) *Handler {
	return &Handler{svc: svc}
}

// RuleCreate 创建规则
func (h *Handler) RuleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RuleCreateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			response.JSON(c, errors.WithCode(ecode.ValidateErr, "%s", validator.Translate(err)), nil)
			return
		}
		rule, err := h.svc.Create(c, req.toModel(c.GetString(consts.UserID)))
		response.JSON(c, err, rule)
	}
}

// RuleGetList 查询规则列表
func (h *Handler) RuleGetList() gin.HandlerFunc {
	return func(c *gin.Context) {
		var page PageReq
		if err := c.ShouldBindQuery(&page); err != nil {
			response.JSON(c, errors.WithCode(ecode.ValidateErr, "%s", validator.Translate(err)), nil)
			return
		}
		rules, total, err := h.svc.List(c, c.GetString(consts.UserID), page.Limit, page.Offset)
		response.JSON(c, err, PageResp{Total: total, List: rules})
	}
}

// RuleGet 查询单条规则
func (h *Handler) RuleGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		rule, err := h.svc.Get(c, c.Param("id"), c.GetString(consts.UserID))
		response.JSON(c, err, rule)
	}
}

// RuleUpdate 更新规则
func (h *Handler) RuleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RuleCreateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			response.JSON(c, errors.WithCode(ecode.ValidateErr, "%s", validator.Translate(err)), nil)
			return
		}
		rule := req.toModel(c.GetString(consts.UserID))
		rule.ID = c.Param("id")
		updated, err := h.svc.Update(c, rule)
		response.JSON(c, err, updated)
	}
}

// RuleDelete 删除规则
func (h *Handler) RuleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.svc.Delete(c, c.Param("id"), c.GetString(consts.UserID))
		response.JSON(c, err, nil)
	}
}

// RuleEnable 启用规则
func (h *Handler) RuleEnable() gin.HandlerFunc {
	return h.setActive(true)
}

// RuleDisable 停用规则
func (h *Handler) RuleDisable() gin.HandlerFunc {
	return h.setActive(false)
}

func (h *Handler) setActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.svc.SetActive(c, c.Param("id"), c.GetString(consts.UserID), active)
		response.JSON(c, err, nil)
	}
}

// TriggerHistoryGet 触发历史
func (h *Handler) TriggerHistoryGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		var page PageReq
		if err := c.ShouldBindQuery(&page); err != nil {
			response.JSON(c, errors.WithCode(ecode.ValidateErr, "%s", validator.Translate(err)), nil)
			return
		}
		recs, total, err := h.svc.TriggerHistory(c, c.GetString(consts.UserID), page.Limit, page.Offset)
		response.JSON(c, err, PageResp{Total: total, List: recs})
	}
}

// DeliveryHistoryGet 单次触发的投递明细
func (h *Handler) DeliveryHistoryGet() gin.HandlerFunc {
	return func(c *gin.Context) {
		recs, err := h.svc.DeliveryHistory(c, c.Param("trigger_id"))
		response.JSON(c, err, recs)
	}
}
