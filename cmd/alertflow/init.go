package main

import (
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"alertflow/conf"
	"alertflow/internal/dao"
	"alertflow/internal/handler/inapp"
	"alertflow/internal/handler/rule"
	"alertflow/internal/router"
	"alertflow/internal/service"
	"alertflow/pkg/kafka"
	"alertflow/pkg/logger"
	"alertflow/pkg/mail"
	"alertflow/pkg/push/apns"
)

// initEngine 组装调度引擎和API依赖
func initEngine(db *gorm.DB) (*router.ApiRouter, *service.Scheduler) {
	appCfg := &conf.AppConfig

	ruleDao := dao.NewRuleDaoWith(db)
	recordDao := dao.NewRecordDaoWith(db)
	throttle := dao.NewRedisThrottleRepository()

	producer := kafka.NewKafkaProducer(appCfg.Kafka.Broker)
	consumer := kafka.NewKafkaConsumer(appCfg.Kafka.Broker)

	node, err := snowflake.NewNode(1)
	if err != nil {
		logger.Fatalf("snowflake init failed: %v", err)
	}

	// 各投递通道
	sender := mail.NewSender(appCfg.Email.Host, appCfg.Email.Port,
		appCfg.Email.Username, appCfg.Email.Password, appCfg.Email.Sender)
	adapters := []service.ChannelAdapter{
		service.NewEmailAdapter(sender, mail.NewVerifier()),
		service.NewSmsAdapter(appCfg.Sms.GatewayURL, appCfg.Sms.ApiKey, appCfg.Sms.Sender),
		service.NewInAppAdapter(producer),
		service.NewWebhookAdapter(appCfg.Engine.WebhookTimeout),
	}
	if appCfg.Apple.Apns.KeyPath != "" {
		adapters = append(adapters, service.NewPushAdapter(apns.NewTokenApns()))
	}

	dispatcher := service.NewDispatcher(adapters, throttle, ruleDao, recordDao, producer, node)

	market := service.NewHTTPMarketProvider(&appCfg.Market)
	scheduler := service.NewScheduler(ruleDao, market, dispatcher, &appCfg.Engine)

	ruleSvc := service.NewRuleService(ruleDao, recordDao)
	ruleHandler := rule.NewHandler(ruleSvc)
	gateway := inapp.NewGateway(consumer)

	return router.NewApiRouter(ruleHandler, gateway), scheduler
}

