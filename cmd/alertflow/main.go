package main

import (
	"context"
	"flag"
	"log"

	"alertflow/conf"
	"alertflow/pkg/cache"
	"alertflow/pkg/db"
	"alertflow/pkg/logger"
)

func main() {
	configPath := flag.String("config", "conf/config.yaml", "配置文件路径")
	flag.Parse()

	if err := conf.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appCfg := &conf.AppConfig

	logger.Init(&appCfg.Log, appCfg.AppName)
	defer logger.Sync()

	gdb := db.Init(db.NewConfig(appCfg.Db.Username, appCfg.Db.Password,
		appCfg.Db.Host, appCfg.Db.Port, appCfg.Db.DbName))
	cache.InitRedis(appCfg.Redis)
	defer cache.CloseRedis()

	apiRouter, scheduler := initEngine(gdb)

	scheduler.Start(context.Background())

	srv := NewServer(appCfg)
	srv.RegisterOnShutdown(func() {
		scheduler.Stop()
	})
	srv.Run(apiRouter)
}
