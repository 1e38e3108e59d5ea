package logger

import (
	"os"

	"alertflow/conf"
	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 基于zap的全局logger，文件轮转交给lumberjack
// 未调用Init时默认输出到控制台，保证单元测试可直接使用

var lg *zap.Logger
var sugar *zap.SugaredLogger

func init() {
	lg, _ = zap.NewDevelopment(zap.AddCallerSkip(1))
	sugar = lg.Sugar()
}

// Init 根据配置初始化全局logger
func Init(cfg *conf.LogConfig, appName string) {
	encCfg := zap.NewProductionEncoderConfig()
	if cfg.TimeFormat != "" {
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(cfg.TimeFormat)
	} else {
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	encoder := zapcore.NewJSONEncoder(encCfg)

	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	var cores []zapcore.Core
	if cfg.FileName != "" {
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FileName,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
			LocalTime:  cfg.LocalTime,
		})
		cores = append(cores, zapcore.NewCore(encoder, w, level))
	}
	if cfg.Console || cfg.FileName == "" {
		consoleEnc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		cores = append(cores, zapcore.NewCore(consoleEnc, zapcore.AddSync(os.Stdout), level))
	}

	lg = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).
		Named(appName)
	sugar = lg.Sugar()
}

// Pair 构造一个结构化字段
func Pair(key string, value interface{}) zap.Field {
	return zap.Any(key, value)
}

func Debug(msg string, fields ...zap.Field) { lg.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { lg.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { lg.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { lg.Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { lg.Fatal(msg, fields...) }

func Debugf(format string, args ...interface{}) { sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { sugar.Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { sugar.Fatalf(format, args...) }

// Sync 刷新缓冲，进程退出前调用
func Sync() {
	_ = lg.Sync()
}
