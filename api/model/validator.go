package model

import (
	"github.com/fyerfyer/doc-classify-QA-system/internal/document"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// init 在gin的校验引擎上注册自定义校验器
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("splitunit", validateSplitUnit)
	}
}

// validateSplitUnit 校验分段单位取值
func validateSplitUnit(fl validator.FieldLevel) bool {
	switch document.SplitUnit(fl.Field().String()) {
	case document.ByWord, document.BySentence, document.ByPassage, document.ByToken:
		return true
	}
	return false
}
