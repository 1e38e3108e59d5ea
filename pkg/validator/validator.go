package validator

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	valid "github.com/go-playground/validator/v10"
	entrans "github.com/go-playground/validator/v10/translations/en"
	zhtrans "github.com/go-playground/validator/v10/translations/zh"
)

// gin binding validator的翻译器注册，错误信息按配置语言输出

var (
	trans ut.Translator
	once  sync.Once
)

// LazyInitGinValidator 替换gin内置validator的错误翻译
func LazyInitGinValidator(language string) {
	once.Do(func() {
		v, ok := binding.Validator.Engine().(*valid.Validate)
		if !ok {
			return
		}
		enLoc := en.New()
		zhLoc := zh.New()
		uni := ut.New(enLoc, enLoc, zhLoc)

		switch language {
		case "zh":
			trans, _ = uni.GetTranslator("zh")
			_ = zhtrans.RegisterDefaultTranslations(v, trans)
		default:
			trans, _ = uni.GetTranslator("en")
			_ = entrans.RegisterDefaultTranslations(v, trans)
		}
	})
}

// Translate 将binding错误翻译为可读信息
func Translate(err error) string {
	if err == nil {
		return ""
	}
	errs, ok := err.(valid.ValidationErrors)
	if !ok || trans == nil {
		return err.Error()
	}
	for _, e := range errs {
		return e.Translate(trans)
	}
	return err.Error()
}
