package models

import "errors"

// 模型层哨兵错误，上层用errors.Is判断具体场景
var (
	ErrDocumentNotFound      = errors.New("document not found")      // 文档不存在
	ErrInvalidDocumentStatus = errors.New("invalid document status") // 非法的状态流转
	ErrQueryRecordNotFound   = errors.New("query record not found")  // 问答记录不存在
)
