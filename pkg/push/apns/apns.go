package apns

import (
	"fmt"
	"strings"
	"time"

	"alertflow/conf"
	"alertflow/pkg/logger"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

type PushMessage struct {
	Category string `form:"category,omitempty" json:"category,omitempty"`
	Title    string `form:"title,omitempty" json:"title,omitempty"`
	Body     string `form:"body,omitempty" json:"body,omitempty"`
	// ios notification sound(system sound please refer to http://iphonedevwiki.net/index.php/AudioServices)
	Sound     string                 `form:"sound,omitempty" json:"sound,omitempty"`
	ExtParams map[string]interface{} `form:"ext_params,omitempty" json:"ext_params,omitempty"`
}

type PushResponse struct {
	ApnsID string
	Reason string
}

// 基于token鉴权的APNS客户端
type Apns struct {
	cfg    *conf.Apns
	client *apns2.Client
}

// NewTokenApns 从p8私钥文件创建APNS客户端
func NewTokenApns() *Apns {
	cfg := &conf.AppConfig.Apple.Apns
	if cfg.KeyPath == "" {
		logger.Fatalf("Apns is not config")
	}
	// 基于token的方式：p8私钥在apple dev官网 - 用户与访问权限中创建
	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		logger.Fatalf("failed to create APNS auth key: %v", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.IsProd {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &Apns{cfg, client}
}

func (a *Apns) Push(msg *PushMessage, deviceToken string) (res *PushResponse, err error) {
	if msg == nil {
		return nil, fmt.Errorf("APNS push failed :%s", "无效的message")
	}
	pl := payload.NewPayload().AlertTitle(msg.Title).AlertBody(msg.Body).Sound(msg.Sound).Category(msg.Category)
	group, exist := msg.ExtParams["group"]
	if exist {
		pl = pl.ThreadID(group.(string))
	}

	for k, v := range msg.ExtParams {
		pl.Custom(strings.ToLower(k), fmt.Sprintf("%v", v))
	}

	resp, err := a.client.Push(&apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       a.cfg.Topic,
		Expiration:  time.Now().Add(24 * time.Hour),
		Payload:     pl.MutableContent(),
	})

	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("APNS push failed :%s", resp.Reason)
	}
	res = &PushResponse{
		ApnsID: resp.ApnsID,
		Reason: resp.Reason,
	}
	return
}
